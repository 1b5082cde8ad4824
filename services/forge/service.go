// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forge provides the code forge HTTP service.
//
// The service turns a natural-language API requirement into code, asks the
// model to test it, and feeds failures back for fixes. It wires together the
// resilient model client, the prompted operations, the asynchronous run
// registry and the observability stack behind a gin router.
//
// # Usage
//
//	cfg := forge.Config{Port: 12310}
//	svc, err := forge.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/telemetry"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/AleutianAI/AleutianForge/services/forge/routes"
	"github.com/AleutianAI/AleutianForge/services/forge/runs"
	"github.com/AleutianAI/AleutianForge/services/forge/workflow"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the forge service.
//
// # Thread Safety
//
// Run blocks and should only be called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails, then
	// cancels in-flight runs and flushes telemetry.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases everything New acquired. Run calls it on return.
	Close(ctx context.Context) error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds forge service configuration.
//
// # Description
//
// All fields are optional; zero values are replaced by applyConfigDefaults.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int `yaml:"port"`

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug"
	GinMode string `yaml:"gin_mode"`

	// MaxIterations is the default fix budget per run. Default: 3.
	// Requests may lower it to zero or raise it up to
	// datatypes.MaxRunIterations.
	MaxIterations int `yaml:"max_iterations"`

	// RunTimeout bounds one asynchronous run. Default: 10m
	RunTimeout time.Duration `yaml:"run_timeout"`

	// RunRetention is how many runs are kept in memory. Default: 100
	RunRetention int `yaml:"run_retention"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Retry configures backoff for rate-limited model calls.
	// Default: llm.DefaultRetryPolicy()
	Retry llm.RetryPolicy `yaml:"retry"`

	// RequestsPerMinute paces model calls client-side. Zero disables pacing.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// LLM holds the model endpoint and credential. Not read from YAML.
	LLM llm.ClientConfig `yaml:"-"`

	// Telemetry selects trace and metric exporters.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = workflow.DefaultMaxIterations
	}
	if cfg.MaxIterations > datatypes.MaxRunIterations {
		cfg.MaxIterations = datatypes.MaxRunIterations
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = runs.DefaultRunTimeout
	}
	if cfg.RunRetention <= 0 {
		cfg.RunRetention = runs.DefaultRetention
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Retry == (llm.RetryPolicy{}) {
		cfg.Retry = llm.DefaultRetryPolicy()
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "aleutian-forge"
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = telemetry.ExporterOTLP
	}
	if cfg.Telemetry.MetricExporter == "" {
		cfg.Telemetry.MetricExporter = telemetry.ExporterPrometheus
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = "localhost:4317"
	}
	return cfg
}

// Option customizes New.
type Option func(*service)

// WithChatModel replaces the OpenAI client. The retry wrapper is still
// applied.
func WithChatModel(model llm.ChatModel) Option {
	return func(s *service) { s.model = model }
}

// WithRegistry replaces the Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *service) { s.registry = reg }
}

// WithRetryOptions adds options to the retry wrapper, such as a fake sleeper.
func WithRetryOptions(opts ...llm.ResilientOption) Option {
	return func(s *service) { s.retryOpts = append(s.retryOpts, opts...) }
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New returns.
type service struct {
	config    Config
	router    *gin.Engine
	registry  *prometheus.Registry
	model     llm.ChatModel
	retryOpts []llm.ResilientOption
	metrics   *observability.ForgeMetrics
	runs      *runs.Registry

	credentialSet bool
	modelName     string

	telemetryShutdown func(context.Context) error
}

// New creates a forge Service.
//
// # Description
//
// New initializes, in order: the Prometheus registry, OpenTelemetry,
// the model client (wrapped for rate-limit retries), the operations, the
// run registry and the router. A missing API key is not fatal: the
// service starts and every model call fails with the credential message.
//
// # Inputs
//
//   - ctx: Used while initializing exporters.
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Test hooks.
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Non-nil if telemetry or the model client cannot be built
func New(ctx context.Context, cfg Config, opts ...Option) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	shutdown, err := telemetry.Init(ctx, s.config.Telemetry, s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown
	s.metrics = observability.NewForgeMetrics(s.registry)

	if err := s.initModel(); err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("failed to initialize model client: %w", err)
	}

	ops := operations.NewService(s.model)
	s.runs = runs.NewRegistry(ops, runs.Config{
		Workflow:  workflow.Config{MaxIterations: s.config.MaxIterations},
		Timeout:   s.config.RunTimeout,
		Retention: s.config.RunRetention,
	}, s.metrics)

	s.initRouter(ops)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until ctx is done or the server
// fails.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting forge server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		slog.Info("Shutting down forge server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := s.Close(shutdownCtx); err != nil {
		slog.Warn("Forge cleanup error", "error", err)
	}
	return serveErr
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close cancels in-flight runs and flushes telemetry.
func (s *service) Close(ctx context.Context) error {
	var errs []error
	if s.runs != nil {
		if err := s.runs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("run registry: %w", err))
		}
	}
	if s.telemetryShutdown != nil {
		if err := s.telemetryShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initModel builds the OpenAI client unless one was injected, then wraps it
// for rate-limit retries.
func (s *service) initModel() error {
	if s.model == nil {
		s.modelName = s.config.LLM.Model
		if s.modelName == "" {
			s.modelName = llm.DefaultModel
		}
		client, err := llm.NewOpenAIClient(s.config.LLM)
		switch {
		case errors.Is(err, llm.ErrMissingCredential):
			slog.Warn("No OpenAI API key configured; model operations will fail until one is set")
			s.model = llm.Unconfigured(err)
		case err != nil:
			return err
		default:
			s.model = client
			s.modelName = client.Model()
			s.credentialSet = true
		}
	} else {
		s.credentialSet = true
	}

	opts := append([]llm.ResilientOption{
		llm.WithRequestsPerMinute(s.config.RequestsPerMinute),
	}, s.retryOpts...)
	s.model = llm.NewResilientClient(s.model, s.config.Retry, opts...)
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(ops operations.Operations) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Operations:     ops,
		Runs:           s.runs,
		Metrics:        s.metrics,
		MetricsHandler: promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}),
		Health: handlers.HealthInfo{
			Model:                s.modelName,
			CredentialConfigured: s.credentialSet,
		},
	})
}
