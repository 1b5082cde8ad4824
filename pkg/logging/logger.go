// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for the forge binaries.
//
// # Description
//
// Logger wraps log/slog with two sinks: human-readable (or JSON) output on
// stderr, and an optional JSON log file rotated by lumberjack. Library
// packages keep logging through the slog package functions; binaries call
// SetDefault so those calls reach the configured sinks.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "forge",
//	    LogDir:  "~/.aleutian/logs",
//	})
//	defer logger.Close()
//	logging.SetDefault(logger)
//
// # Thread Safety
//
// All Logger methods are safe for concurrent use.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a case-insensitive level name ("debug", "info", "warn",
// "warning", "error").
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config controls Logger behavior.
type Config struct {
	// Level is the minimum level written to every sink.
	Level Level

	// Service is added to every record as the "service" attribute.
	Service string

	// JSON switches stderr output from text to JSON. The file sink is
	// always JSON.
	JSON bool

	// Quiet disables the stderr sink.
	Quiet bool

	// LogDir enables the file sink at LogDir/<service>.log. "~" expands to
	// the home directory.
	LogDir string

	// MaxSizeMB is the size at which the log file rotates. Default: 50.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default: 5.
	MaxBackups int

	// MaxAgeDays removes rotated files older than this. Default: 28.
	MaxAgeDays int

	// Output replaces stderr. Used by tests.
	Output io.Writer
}

func (c Config) withDefaults() Config {
	if c.Service == "" {
		c.Service = "aleutian"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 28
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
	return c
}

// =============================================================================
// Logger
// =============================================================================

// Logger is a structured logger with stderr and rotating file sinks.
type Logger struct {
	slog   *slog.Logger
	config Config
	file   *lumberjack.Logger
}

// New creates a Logger. A log directory that cannot be created disables the
// file sink with a warning on stderr rather than failing.
func New(config Config) *Logger {
	config = config.withDefaults()
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(config.Output, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(config.Output, opts))
		}
	}

	logger := &Logger{config: config}
	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			fmt.Fprintf(config.Output, "logging: file sink disabled: %v\n", err)
		} else {
			logger.file = &lumberjack.Logger{
				Filename:   filepath.Join(logDir, config.Service+".log"),
				MaxSize:    config.MaxSizeMB,
				MaxBackups: config.MaxBackups,
				MaxAge:     config.MaxAgeDays,
				Compress:   true,
			}
			handlers = append(handlers, slog.NewJSONHandler(logger.file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})

	logger.slog = slog.New(handler)
	return logger
}

// SetDefault installs l as slog's default logger.
func SetDefault(l *Logger) {
	slog.SetDefault(l.slog)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a Logger that adds args to every record. The file sink is
// shared with the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// LogPath returns the active log file, or "" when file logging is off.
func (l *Logger) LogPath() string {
	if l.file == nil {
		return ""
	}
	return l.file.Filename
}

// Close closes the log file. Safe to call when file logging is off.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// =============================================================================
// Multi-Handler
// =============================================================================

// multiHandler fans a record out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
