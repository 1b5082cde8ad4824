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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/pkg/ux"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

// errReported signals a failure the command already rendered; main exits
// non-zero without printing it again.
var errReported = errors.New("failure already reported")

// app carries state shared by every subcommand.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath  string
	logLevel    string
	personality string

	cfg     fileConfig
	printer *ux.Printer
	logger  *logging.Logger

	// newModel builds the provider client. Tests replace it.
	newModel func(llm.ClientConfig) (llm.ChatModel, error)

	// retryOpts are appended to the resilient client options.
	retryOpts []llm.ResilientOption
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		errOut: errOut,
		newModel: func(cfg llm.ClientConfig) (llm.ChatModel, error) {
			client, err := llm.NewOpenAIClient(cfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// newRootCmd builds the command tree.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "forge",
		Short: "Generate, test and fix API code with a language model",
		Long: `forge turns a natural-language API requirement into code, asks the model
to test it, and feeds failures back for fixes until the tests pass or the
fix budget runs out.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", defaultConfigPath(), "path to the YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.personality, "personality", "", "output style: standard, minimal, machine")

	root.AddCommand(newServeCmd(a), newGenerateCmd(a), newRunCmd(a))
	return root
}

// setup loads the config file, then lets flags override it.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(a.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	a.cfg = cfg

	levelName := cfg.Log.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level := logging.LevelWarn
	if levelName != "" {
		if level, err = logging.ParseLevel(levelName); err != nil {
			return err
		}
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		Service: "forge",
		JSON:    cfg.Log.JSON,
		LogDir:  cfg.Log.Dir,
		Output:  a.errOut,
	})
	logging.SetDefault(a.logger)

	personality := cfg.Personality
	if a.personality != "" {
		personality = a.personality
	}
	var style ux.PersonalityLevel
	if personality != "" {
		style = ux.ParsePersonalityLevel(personality)
	}
	a.printer = ux.NewPrinter(a.out, style)
	return nil
}

// teardown closes the log file. It runs whether or not the command failed.
func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// chatModel builds the rate-limit aware model client for one-shot commands.
// A missing key fails fast instead of surfacing on the first model call.
func (a *app) chatModel() (llm.ChatModel, error) {
	memguard.CatchInterrupt()

	model, err := a.newModel(a.cfg.clientConfig())
	if errors.Is(err, llm.ErrMissingCredential) {
		a.printer.ErrorBox("Missing credential", operations.MsgMissingCredential)
		return nil, errReported
	}
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	policy := a.cfg.Server.Retry
	if policy == (llm.RetryPolicy{}) {
		policy = llm.DefaultRetryPolicy()
	}
	opts := append([]llm.ResilientOption{
		llm.WithRequestsPerMinute(a.cfg.Server.RequestsPerMinute),
		llm.WithRetryHook(func(attempt int, delay time.Duration) {
			a.printer.Warning(fmt.Sprintf("Rate limited, retrying in %s (attempt %d/%d)",
				delay.Round(time.Second), attempt+1, policy.MaxRetries))
		}),
	}, a.retryOpts...)
	return llm.NewResilientClient(model, policy, opts...), nil
}
