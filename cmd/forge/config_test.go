// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err, "an absent default config is fine")
	assert.Equal(t, fileConfig{}, cfg)

	_, err = loadConfig(missing, true)
	assert.Error(t, err, "an explicit config path must exist")
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, fileConfig{}, cfg)
}

func TestLoadConfig_Full(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  max_iterations: 4
  run_timeout: 90s
  retry:
    max_retries: 2
    base_delay: 2s
  requests_per_minute: 30
  telemetry:
    trace_exporter: stdout
    metric_exporter: none
model:
  base_url: http://localhost:8080/v1
  model: gpt-4o
log:
  level: debug
  dir: /tmp/forge-logs
personality: minimal
`)

	cfg, err := loadConfig(path, true)

	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.MaxIterations)
	assert.Equal(t, 90*time.Second, cfg.Server.RunTimeout)
	assert.Equal(t, 2, cfg.Server.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Server.Retry.BaseDelay)
	assert.Equal(t, 30, cfg.Server.RequestsPerMinute)
	assert.Equal(t, "stdout", cfg.Server.Telemetry.TraceExporter)
	assert.Equal(t, "none", cfg.Server.Telemetry.MetricExporter)
	assert.Equal(t, "gpt-4o", cfg.Model.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "minimal", cfg.Personality)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "server:\n  prot: 1\n"), true)
	assert.Error(t, err)
}

func TestClientConfig_EnvCredentialWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_MODEL", "")
	cfg := fileConfig{Model: modelConfig{APIKey: "file-key", BaseURL: "http://proxy.local/v1", Model: "gpt-4o"}}

	client := cfg.clientConfig()

	key, err := client.APIKey.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)
	assert.Equal(t, "http://proxy.local/v1", client.BaseURL, "file overrides endpoint settings")
	assert.Equal(t, "gpt-4o", client.Model)
}

func TestClientConfig_FileCredentialFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := os.Stat("/run/secrets/openai_api_key"); err == nil {
		t.Skip("secret file present")
	}
	cfg := fileConfig{Model: modelConfig{APIKey: "file-key"}}

	key, err := cfg.clientConfig().APIKey.Reveal()

	require.NoError(t, err)
	assert.Equal(t, "file-key", key)
}
