// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/AleutianAI/AleutianForge/services/forge/runs"
	"github.com/gin-gonic/gin"
)

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	Operations operations.Operations
	Runs       *runs.Registry
	Metrics    *observability.ForgeMetrics

	// MetricsHandler serves /metrics. nil leaves the route unregistered.
	MetricsHandler http.Handler

	Health handlers.HealthInfo
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HandleHealth(deps.Health))
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/generate", handlers.HandleGenerate(deps.Operations, deps.Metrics))
		v1.POST("/test", handlers.HandleTest(deps.Operations, deps.Metrics))
		v1.POST("/fix", handlers.HandleFix(deps.Operations, deps.Metrics))

		// Asynchronous runs
		runRoutes := v1.Group("/runs")
		{
			runRoutes.POST("", handlers.HandleCreateRun(deps.Runs))
			runRoutes.GET("/:runId", handlers.HandleGetRun(deps.Runs))
			runRoutes.DELETE("/:runId", handlers.HandleCancelRun(deps.Runs))
			runRoutes.POST("/:runId/test", handlers.HandleTestRun(deps.Runs))
			runRoutes.POST("/:runId/reset", handlers.HandleResetRun(deps.Runs))
			runRoutes.GET("/:runId/ws", handlers.HandleRunWebSocket(deps.Runs))
		}
	}
}
