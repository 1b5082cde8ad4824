// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge-server starts the forge HTTP service in a container.
//
// It reads configuration from environment variables only.
//
// # Environment Variables
//
//   - FORGE_PORT: HTTP server port (default: 12310)
//   - FORGE_MAX_ITERATIONS: default fix budget per run (default: 3)
//   - FORGE_RUN_TIMEOUT: bound on one asynchronous run, e.g. "5m" (default: 10m)
//   - FORGE_REQUESTS_PER_MINUTE: client-side model pacing (default: off)
//   - FORGE_LOG_LEVEL: debug, info, warn, error (default: info)
//   - OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL, HTTPS_PROXY: model client
//   - OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT,
//     OTEL_TRACES_SAMPLER_ARG: telemetry
//
// # Usage
//
//	go build -o forge-server ./cmd/forge-server
//	OPENAI_API_KEY=... ./forge-server
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/pkg/telemetry"
	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/awnumar/memguard"
)

func main() {
	level, err := logging.ParseLevel(getEnvString("FORGE_LOG_LEVEL", "info"))
	if err != nil {
		log.Printf("%v, using info", err)
	}
	logging.SetDefault(logging.New(logging.Config{
		Level:   level,
		Service: "forge-server",
		JSON:    true,
		Output:  os.Stdout,
	}))

	cfg := configFromEnv()
	slog.Info("Starting forge server",
		"port", cfg.Port,
		"max_iterations", cfg.MaxIterations,
		"model", cfg.LLM.Model,
		"trace_exporter", cfg.Telemetry.TraceExporter,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := forge.New(ctx, cfg)
	if err != nil {
		memguard.Purge()
		log.Fatalf("Failed to create forge service: %v", err)
	}

	// Run blocks until the signal context ends.
	err = svc.Run(ctx)
	memguard.Purge()
	if err != nil {
		log.Fatalf("Forge server error: %v", err)
	}
}

// configFromEnv builds the service configuration. Unset values are left at
// zero so forge.New applies its defaults.
func configFromEnv() forge.Config {
	return forge.Config{
		Port:              getEnvInt("FORGE_PORT", 12310),
		GinMode:           os.Getenv("GIN_MODE"),
		MaxIterations:     getEnvInt("FORGE_MAX_ITERATIONS", 0),
		RunTimeout:        getEnvDuration("FORGE_RUN_TIMEOUT", 0),
		RequestsPerMinute: getEnvInt("FORGE_REQUESTS_PER_MINUTE", 0),
		LLM:               llm.ConfigFromEnv(),
		Telemetry:         telemetry.DefaultConfig(),
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", value)
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("Ignoring invalid duration", "key", key, "value", value)
	}
	return defaultValue
}
