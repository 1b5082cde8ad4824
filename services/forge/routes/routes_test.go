// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/AleutianAI/AleutianForge/services/forge/runs"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newDeps(t *testing.T, withMetrics bool) Dependencies {
	t.Helper()
	ops := operations.NewService(llm.Unconfigured(llm.ErrMissingCredential))
	deps := Dependencies{
		Operations: ops,
		Runs:       runs.NewRegistry(ops, runs.Config{}, nil),
	}
	t.Cleanup(func() { _ = deps.Runs.Shutdown(context.Background()) })
	if withMetrics {
		reg := prometheus.NewRegistry()
		deps.Metrics = observability.NewForgeMetrics(reg)
		deps.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	return deps
}

func registered(router *gin.Engine) map[string]bool {
	out := make(map[string]bool)
	for _, r := range router.Routes() {
		out[r.Method+" "+r.Path] = true
	}
	return out
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAllRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t, true))

	routes := registered(router)
	for _, expected := range []string{
		"GET /health",
		"GET /metrics",
		"POST /v1/generate",
		"POST /v1/test",
		"POST /v1/fix",
		"POST /v1/runs",
		"GET /v1/runs/:runId",
		"DELETE /v1/runs/:runId",
		"POST /v1/runs/:runId/test",
		"POST /v1/runs/:runId/reset",
		"GET /v1/runs/:runId/ws",
	} {
		assert.True(t, routes[expected], "route %s should be registered", expected)
	}
}

func TestSetupRoutes_WithoutMetrics(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t, false))

	assert.False(t, registered(router)["GET /metrics"])
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t, true))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_forge_active_runs")
}
