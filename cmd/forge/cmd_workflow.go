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
	"os"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/AleutianAI/AleutianForge/services/forge/workflow"
	"github.com/spf13/cobra"
)

// workflowFlags are shared by generate and run.
type workflowFlags struct {
	language  string
	framework string
	output    string
}

func (f *workflowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.language, "language", "l", string(datatypes.LanguageTypeScript),
		"target language: "+datatypes.SupportedLanguageList())
	cmd.Flags().StringVarP(&f.framework, "framework", "f", "", "optional framework hint, e.g. express or gin")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the final code to this file")
}

func newGenerateCmd(a *app) *cobra.Command {
	var flags workflowFlags
	cmd := &cobra.Command{
		Use:   "generate [requirement...]",
		Short: "Generate code for a requirement without testing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorkflow(cmd, args, flags, -1, false)
		},
	}
	flags.register(cmd)
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var flags workflowFlags
	var maxIterations int
	cmd := &cobra.Command{
		Use:   "run [requirement...]",
		Short: "Generate, test and fix code until the tests pass or the budget runs out",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			budget := a.cfg.Server.MaxIterations
			if budget <= 0 {
				budget = workflow.DefaultMaxIterations
			}
			if cmd.Flags().Changed("max-iterations") {
				budget = maxIterations
			}
			if budget > datatypes.MaxRunIterations {
				return fmt.Errorf("max-iterations must be at most %d", datatypes.MaxRunIterations)
			}
			return a.runWorkflow(cmd, args, flags, budget, true)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", workflow.DefaultMaxIterations,
		"fix attempts after the first test; 0 only tests")
	return cmd
}

// runWorkflow drives one workflow.Run in the foreground, rendering every
// transition. A negative budget selects the workflow default.
func (a *app) runWorkflow(cmd *cobra.Command, args []string, flags workflowFlags, budget int, auto bool) error {
	model, err := a.chatModel()
	if err != nil {
		return err
	}

	renderer := newStepRenderer(a.printer)
	run := workflow.New(operations.NewService(model), workflow.Config{MaxIterations: budget},
		workflow.WithObserver(renderer.observe))

	in := workflow.GenerateInput{
		Requirement: strings.Join(args, " "),
		Language:    strings.ToLower(flags.language),
		Framework:   flags.framework,
	}

	a.printer.Title("Aleutian Forge")
	if auto {
		err = run.AutoRun(cmd.Context(), in)
	} else {
		err = run.Generate(cmd.Context(), in)
	}

	var verr *operations.ValidationError
	if errors.As(err, &verr) {
		return verr
	}

	final := run.State()
	if err != nil {
		renderResult(a.printer, final)
		a.printer.ErrorBox("Run failed", final.LastError)
		return errReported
	}

	renderResult(a.printer, final)
	if flags.output != "" {
		if err := os.WriteFile(flags.output, []byte(final.Code), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", flags.output, err)
		}
		a.printer.Success("Wrote " + flags.output)
	}
	if auto && final.Step != datatypes.StepComplete {
		a.printer.Warning(fmt.Sprintf("Tests still failing after %d fix(es)", final.Iteration))
		return errReported
	}
	return nil
}
