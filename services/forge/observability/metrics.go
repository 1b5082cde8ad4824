// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the forge service.
//
// # Description
//
// Metrics include:
//   - HTTP operation counters and latency (generate, test, fix)
//   - Workflow step transitions and final outcomes
//   - Fix iteration counts and diff sizes
//   - Active asynchronous runs
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for forge metrics
const forgeSubsystem = "forge"

// ForgeMetrics holds all Prometheus metrics for the forge service.
//
// # Fields
//
//   - OperationsTotal: Counter of HTTP operations by operation and status
//   - OperationDurationSeconds: Histogram of HTTP operation latency
//   - StepTransitionsTotal: Counter of workflow step transitions
//   - RunOutcomesTotal: Counter of runs by final step
//   - FixIterations: Histogram of fix attempts per finished run
//   - FixLinesChanged: Counter of lines added/removed by fixes
//   - ActiveRuns: Gauge of asynchronous runs in progress
type ForgeMetrics struct {
	// OperationsTotal counts HTTP operations.
	// Labels: operation (generate, test, fix), status (success, error)
	OperationsTotal *prometheus.CounterVec

	// OperationDurationSeconds measures HTTP operation latency.
	// Labels: operation
	OperationDurationSeconds *prometheus.HistogramVec

	// ErrorsTotal counts operation errors.
	// Labels: operation, error_code
	ErrorsTotal *prometheus.CounterVec

	// StepTransitionsTotal counts entries into each workflow step.
	// Labels: step
	StepTransitionsTotal *prometheus.CounterVec

	// RunOutcomesTotal counts finished workflow entry points by final step.
	// Labels: step (generated, tested, complete, error)
	RunOutcomesTotal *prometheus.CounterVec

	// FixIterations records fix attempts per finished entry point.
	FixIterations prometheus.Histogram

	// FixLinesChanged counts lines touched by fixes.
	// Labels: direction (added, removed)
	FixLinesChanged *prometheus.CounterVec

	// ActiveRuns tracks asynchronous runs in progress.
	ActiveRuns prometheus.Gauge
}

// NewForgeMetrics creates and registers all forge metrics on reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registerer (duplicate registration).
func NewForgeMetrics(reg prometheus.Registerer) *ForgeMetrics {
	factory := promauto.With(reg)
	return &ForgeMetrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "operations_total",
				Help:      "Total number of forge operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		OperationDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "operation_duration_seconds",
				Help:      "Forge operation latency in seconds, including model backoff",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "errors_total",
				Help:      "Total forge operation errors by operation and error code",
			},
			[]string{"operation", "error_code"},
		),

		StepTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "step_transitions_total",
				Help:      "Total workflow step transitions by target step",
			},
			[]string{"step"},
		),

		RunOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "run_outcomes_total",
				Help:      "Total finished workflow entry points by final step",
			},
			[]string{"step"},
		),

		FixIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "fix_iterations",
				Help:      "Fix attempts per finished workflow entry point",
				Buckets:   []float64{0, 1, 2, 3, 5, 10},
			},
		),

		FixLinesChanged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "fix_lines_changed_total",
				Help:      "Total lines added or removed by model fixes",
			},
			[]string{"direction"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "active_runs",
				Help:      "Number of asynchronous runs in progress",
			},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeCredential indicates no model API key is configured.
	ErrorCodeCredential ErrorCode = "missing_credential"

	// ErrorCodeRateLimited indicates model retries were exhausted.
	ErrorCodeRateLimited ErrorCode = "rate_limited"

	// ErrorCodeUpstream indicates any other model failure.
	ErrorCodeUpstream ErrorCode = "upstream"

	// ErrorCodeCancelled indicates the caller went away or timed out.
	ErrorCodeCancelled ErrorCode = "cancelled"
)

// Operation labels an HTTP operation.
type Operation string

const (
	OperationGenerate Operation = "generate"
	OperationTest     Operation = "test"
	OperationFix      Operation = "fix"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordOperation records a completed HTTP operation.
//
// # Inputs
//
//   - op: The operation that handled the request.
//   - seconds: Handler latency.
//   - success: Whether the operation succeeded.
func (m *ForgeMetrics) RecordOperation(op Operation, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(string(op), status).Inc()
	m.OperationDurationSeconds.WithLabelValues(string(op)).Observe(seconds)
}

// RecordError records an operation error.
func (m *ForgeMetrics) RecordError(op Operation, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(op), string(code)).Inc()
}

// RecordTransition implements workflow.Recorder.
func (m *ForgeMetrics) RecordTransition(step datatypes.WorkflowStep) {
	m.StepTransitionsTotal.WithLabelValues(string(step)).Inc()
}

// RecordFix implements workflow.Recorder.
func (m *ForgeMetrics) RecordFix(stats datatypes.DiffStats) {
	m.FixLinesChanged.WithLabelValues("added").Add(float64(stats.LinesAdded))
	m.FixLinesChanged.WithLabelValues("removed").Add(float64(stats.LinesRemoved))
}

// RecordOutcome implements workflow.Recorder.
func (m *ForgeMetrics) RecordOutcome(step datatypes.WorkflowStep, iterations int) {
	m.RunOutcomesTotal.WithLabelValues(string(step)).Inc()
	m.FixIterations.Observe(float64(iterations))
}

// RunStarted increments the active runs gauge.
func (m *ForgeMetrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunEnded decrements the active runs gauge.
func (m *ForgeMetrics) RunEnded() {
	m.ActiveRuns.Dec()
}
