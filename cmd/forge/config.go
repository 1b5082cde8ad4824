// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"gopkg.in/yaml.v3"
)

// defaultConfigFile is resolved under the user's home directory.
const defaultConfigFile = ".aleutian/forge.yaml"

// fileConfig is the on-disk CLI configuration.
//
// # Example
//
//	server:
//	  port: 12310
//	  max_iterations: 3
//	  run_timeout: 10m
//	  retry:
//	    max_retries: 5
//	    base_delay: 15s
//	  telemetry:
//	    trace_exporter: stdout
//	model:
//	  model: gpt-4o-mini
//	log:
//	  level: debug
//	  dir: ~/.aleutian/logs
//	personality: minimal
type fileConfig struct {
	Server      forge.Config `yaml:"server"`
	Model       modelConfig  `yaml:"model"`
	Log         logConfig    `yaml:"log"`
	Personality string       `yaml:"personality"`
}

type modelConfig struct {
	// APIKey is only used when OPENAI_API_KEY and the secret file are unset.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Proxy   string `yaml:"proxy"`
}

type logConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// defaultConfigPath returns ~/.aleutian/forge.yaml, or "" when the home
// directory is unknown.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigFile)
}

// loadConfig reads path. A missing file is only an error when the user named
// it explicitly; unknown keys are always rejected.
func loadConfig(path string, explicit bool) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// clientConfig merges the environment with the file. The file overrides
// endpoint settings; the environment wins for the credential.
func (c fileConfig) clientConfig() llm.ClientConfig {
	cfg := llm.ConfigFromEnv()
	if !cfg.APIKey.IsSet() && c.Model.APIKey != "" {
		cfg.APIKey = llm.NewCredential(c.Model.APIKey)
	}
	if c.Model.BaseURL != "" {
		cfg.BaseURL = c.Model.BaseURL
	}
	if c.Model.Model != "" {
		cfg.Model = c.Model.Model
	}
	if c.Model.Proxy != "" {
		cfg.ProxyURL = c.Model.Proxy
	}
	return cfg
}
