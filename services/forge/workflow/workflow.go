// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow drives the generate → test → fix loop for a single run.
//
// # Description
//
// A Run owns one datatypes.WorkflowState and is the only code that mutates
// it. Three entry points share one fix loop:
//
//   - Generate stops at "generated" and waits for an explicit Test.
//   - Test runs the test, then fixes and re-tests while the report fails
//     and the iteration budget lasts.
//   - AutoRun is Generate followed by Test.
//
// The loop ends at "complete" as soon as a test report succeeds, or at
// "tested" once MaxIterations fixes have been spent. Any operation failure
// moves the run to "error" while keeping the last good code and report.
//
// # Thread Safety
//
// Entry points on one Run are serialized. State may be called at any time.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
)

// DefaultMaxIterations is the fix budget per run.
const DefaultMaxIterations = 3

// ErrNoCode is returned by Test when there is nothing to test yet.
var ErrNoCode = errors.New("no code to test")

// =============================================================================
// Configuration
// =============================================================================

// Config controls a Run.
type Config struct {
	// MaxIterations is the number of fix attempts per run. Zero disables the
	// fix loop; a negative value selects DefaultMaxIterations.
	MaxIterations int
}

// DefaultConfig returns a Config with a budget of DefaultMaxIterations.
func DefaultConfig() Config {
	return Config{MaxIterations: DefaultMaxIterations}
}

// Observer receives a snapshot after every state transition. It is called
// synchronously and must not call back into the Run's entry points.
type Observer func(state datatypes.WorkflowState)

// Recorder receives workflow events for metrics.
type Recorder interface {
	RecordTransition(step datatypes.WorkflowStep)
	RecordFix(stats datatypes.DiffStats)
	RecordOutcome(step datatypes.WorkflowStep, iterations int)
}

// Option configures a Run.
type Option func(*Run)

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(r *Run) { r.observers = append(r.observers, o) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Run) { r.recorder = rec }
}

// =============================================================================
// Run
// =============================================================================

// GenerateInput starts a new run.
type GenerateInput struct {
	Requirement string
	Language    string
	Framework   string
}

// TestOptions controls a manually triggered test.
type TestOptions struct {
	// Continue keeps the current iteration count and fix history instead of
	// starting a fresh fix budget.
	Continue bool

	// Code replaces the current code before testing, for hand-edited code.
	// Empty keeps the current code.
	Code string
}

// Run is one workflow instance.
type Run struct {
	ops       operations.Operations
	cfg       Config
	observers []Observer
	recorder  Recorder

	// opMu serializes entry points; stateMu guards state.
	opMu    sync.Mutex
	stateMu sync.RWMutex
	state   datatypes.WorkflowState
}

// New creates an idle Run.
//
// # Inputs
//
//   - ops: The prompted operations. Required.
//   - cfg: Run configuration. Use DefaultConfig() for the standard budget.
//   - opts: Observers and recorders.
//
// # Outputs
//
//   - *Run: An idle run.
func New(ops operations.Operations, cfg Config, opts ...Option) *Run {
	if cfg.MaxIterations < 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	r := &Run{ops: ops, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	r.state = r.initialState()
	return r
}

// State returns a snapshot of the current state.
func (r *Run) State() datatypes.WorkflowState {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state.Clone()
}

// Reset returns the run to idle and clears all results.
func (r *Run) Reset() {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.update(func(s *datatypes.WorkflowState) { *s = r.initialState() })
}

// Generate starts a fresh run and generates code, stopping at "generated".
//
// # Description
//
// Invalid input is rejected with an operations.ValidationError before any
// state changes. Otherwise the previous run's results are cleared.
//
// # Outputs
//
//   - error: A validation error, or the operation error after the run moved
//     to "error".
func (r *Run) Generate(ctx context.Context, in GenerateInput) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	opIn := in.operationInput()
	if err := opIn.Validate(); err != nil {
		return err
	}
	err := r.generate(ctx, opIn)
	r.finish()
	return err
}

// Test tests the current code and runs the fix loop.
//
// # Description
//
// Unless opts.Continue is set, the iteration count and fix history are
// reset first, giving the run a full fix budget. The previous error message
// is always cleared. A non-empty opts.Code replaces the current code.
//
// # Outputs
//
//   - error: ErrNoCode before anything has been generated, or the operation
//     error after the run moved to "error". A report that still fails after
//     the budget is spent is not an error; the run ends at "tested".
func (r *Run) Test(ctx context.Context, opts TestOptions) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	current := r.State()
	if current.Code == "" {
		return ErrNoCode
	}
	r.update(func(s *datatypes.WorkflowState) {
		s.LastError = ""
		if opts.Code != "" {
			s.Code = opts.Code
		}
		if !opts.Continue {
			s.Iteration = 0
			s.FixHistory = []datatypes.FixResult{}
		}
	})
	err := r.testAndFix(ctx)
	r.finish()
	return err
}

// AutoRun generates code and immediately tests and fixes it.
func (r *Run) AutoRun(ctx context.Context, in GenerateInput) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	opIn := in.operationInput()
	if err := opIn.Validate(); err != nil {
		return err
	}
	err := r.generate(ctx, opIn)
	if err == nil {
		err = r.testAndFix(ctx)
	}
	r.finish()
	return err
}

// =============================================================================
// Steps
// =============================================================================

func (in GenerateInput) operationInput() operations.GenerateInput {
	return operations.GenerateInput{
		Requirement: in.Requirement,
		Language:    in.Language,
		Framework:   in.Framework,
	}
}

// generate clears the previous run and generates code. in must be valid.
func (r *Run) generate(ctx context.Context, in operations.GenerateInput) error {
	r.update(func(s *datatypes.WorkflowState) {
		*s = r.initialState()
		s.Step = datatypes.StepGenerating
		s.Requirement = in.Requirement
		s.Language = datatypes.Language(in.Language)
		s.Framework = in.Framework
	})

	out, err := r.ops.Generate(ctx, in)
	if err != nil {
		return r.fail(operations.KindGenerate, err)
	}

	r.update(func(s *datatypes.WorkflowState) {
		s.Code = out.Code
		s.Explanation = out.Explanation
		s.Step = datatypes.StepGenerated
	})
	return nil
}

// testAndFix is the single fix loop shared by Test and AutoRun.
func (r *Run) testAndFix(ctx context.Context) error {
	result, err := r.runTest(ctx)
	if err != nil {
		return err
	}

	for !result.Success {
		st := r.State()
		if st.Iteration >= r.cfg.MaxIterations {
			break
		}

		r.update(func(s *datatypes.WorkflowState) {
			s.Iteration++
			s.Step = datatypes.StepFixing
		})

		fix, err := r.ops.Fix(ctx, operations.FixInput{
			Code:        st.Code,
			Language:    string(st.Language),
			Errors:      fixErrors(result),
			TestResults: reportJSON(result),
		})
		if err != nil {
			return r.fail(operations.KindFix, err)
		}

		stats := diffStats(st.Code, fix.Code)
		fix.Stats = &stats
		if r.recorder != nil {
			r.recorder.RecordFix(stats)
		}
		r.update(func(s *datatypes.WorkflowState) {
			s.Code = fix.Code
			s.FixHistory = append(s.FixHistory, *fix)
			s.Step = datatypes.StepFixed
		})

		if result, err = r.runTest(ctx); err != nil {
			return err
		}
	}

	r.update(func(s *datatypes.WorkflowState) {
		if result.Success {
			s.Step = datatypes.StepComplete
		} else {
			s.Step = datatypes.StepTested
		}
	})
	if !result.Success {
		slog.Info("Fix budget spent with failing tests",
			"iterations", r.cfg.MaxIterations,
			"failing", len(result.FailingTests()))
	}
	return nil
}

// runTest moves to "testing", runs the test operation and records the
// normalized report, leaving the run at "tested".
func (r *Run) runTest(ctx context.Context) (*datatypes.TestResult, error) {
	var in operations.TestInput
	r.update(func(s *datatypes.WorkflowState) {
		s.Step = datatypes.StepTesting
		in = operations.TestInput{Code: s.Code, Language: string(s.Language), Requirement: s.Requirement}
	})

	report, err := r.ops.Test(ctx, in)
	if err != nil {
		return nil, r.fail(operations.KindTest, err)
	}
	result := operations.NormalizeTestReport(report.Raw)

	r.update(func(s *datatypes.WorkflowState) {
		s.TestResult = result.Clone()
		s.Step = datatypes.StepTested
	})
	return &result, nil
}

// fail moves the run to "error", keeping code and test results.
func (r *Run) fail(kind operations.Kind, err error) error {
	msg := operations.UserMessage(kind, err)
	slog.Error("Workflow step failed", "operation", string(kind), "error", err)
	r.update(func(s *datatypes.WorkflowState) {
		s.Step = datatypes.StepError
		s.LastError = msg
	})
	return fmt.Errorf("%s: %w", kind, err)
}

// finish reports where an entry point left the run.
func (r *Run) finish() {
	if r.recorder == nil {
		return
	}
	st := r.State()
	r.recorder.RecordOutcome(st.Step, st.Iteration)
}

// update applies fn under the state lock and notifies observers with a
// snapshot taken while the lock was held.
func (r *Run) update(fn func(s *datatypes.WorkflowState)) {
	r.stateMu.Lock()
	prev := r.state.Step
	fn(&r.state)
	snapshot := r.state.Clone()
	r.stateMu.Unlock()

	if r.recorder != nil && snapshot.Step != prev {
		r.recorder.RecordTransition(snapshot.Step)
	}
	for _, o := range r.observers {
		o(snapshot)
	}
}

func (r *Run) initialState() datatypes.WorkflowState {
	return datatypes.WorkflowState{
		Step:          datatypes.StepIdle,
		FixHistory:    []datatypes.FixResult{},
		MaxIterations: r.cfg.MaxIterations,
	}
}

// =============================================================================
// Helpers
// =============================================================================

// fixErrors returns the errors to send to the fix operation. When the model
// reported failing tests but no errors, each failing test becomes one line.
func fixErrors(result *datatypes.TestResult) []string {
	if len(result.Errors) > 0 {
		return append([]string(nil), result.Errors...)
	}
	var errs []string
	for _, tc := range result.FailingTests() {
		if tc.Message != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", tc.Name, tc.Message))
		} else {
			errs = append(errs, fmt.Sprintf("%s (%s)", tc.Name, tc.Status))
		}
	}
	if len(errs) == 0 {
		errs = []string{"The test report contained no test cases"}
	}
	return errs
}

// reportJSON renders result for the fix prompt.
func reportJSON(result *datatypes.TestResult) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
