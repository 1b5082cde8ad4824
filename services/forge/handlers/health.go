// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthInfo is reported by GET /health.
type HealthInfo struct {
	Model                string `json:"model"`
	CredentialConfigured bool   `json:"credential_configured"`
}

// HandleHealth always answers 200; a missing credential is reported but does
// not make the service unhealthy.
func HandleHealth(info HealthInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":                "healthy",
			"service":               "forge",
			"model":                 info.Model,
			"credential_configured": info.CredentialConfigured,
		})
	}
}
