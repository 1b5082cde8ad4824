// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the domain model and wire types for the forge
// service.
//
// This file contains the workflow domain model: steps, languages, test
// reports and fix results. For HTTP request and response types, see api.go.
package datatypes

import (
	"fmt"
	"strings"
)

// =============================================================================
// Workflow Steps
// =============================================================================

// WorkflowStep is the current position of a run in the generate/test/fix
// state machine.
type WorkflowStep string

const (
	StepIdle       WorkflowStep = "idle"
	StepGenerating WorkflowStep = "generating"
	StepGenerated  WorkflowStep = "generated"
	StepTesting    WorkflowStep = "testing"
	StepTested     WorkflowStep = "tested"
	StepFixing     WorkflowStep = "fixing"
	StepFixed      WorkflowStep = "fixed"
	StepComplete   WorkflowStep = "complete"
	StepError      WorkflowStep = "error"
)

// IsBusy reports whether a model call is in flight for this step.
func (s WorkflowStep) IsBusy() bool {
	switch s {
	case StepGenerating, StepTesting, StepFixing:
		return true
	}
	return false
}

// =============================================================================
// Languages
// =============================================================================

// Language is a supported target language for generated code.
type Language string

const (
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageRust       Language = "rust"
)

var supportedLanguages = []Language{
	LanguageTypeScript,
	LanguagePython,
	LanguageGo,
	LanguageJava,
	LanguageRust,
}

// SupportedLanguages returns the closed set of languages in display order.
func SupportedLanguages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

// SupportedLanguageList renders the supported set as "typescript, python, ...".
func SupportedLanguageList() string {
	names := make([]string, len(supportedLanguages))
	for i, l := range supportedLanguages {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}

// ParseLanguage validates s against the supported set. Matching is exact.
func ParseLanguage(s string) (Language, error) {
	for _, l := range supportedLanguages {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// IsSupported reports whether l belongs to the supported set.
func (l Language) IsSupported() bool {
	_, err := ParseLanguage(string(l))
	return err == nil
}

// =============================================================================
// Test Reports
// =============================================================================

// TestStatus is the outcome of one simulated test case.
type TestStatus string

const (
	TestPass    TestStatus = "pass"
	TestFail    TestStatus = "fail"
	TestPending TestStatus = "pending"
)

// NormalizeTestStatus maps model output onto the closed status set. Anything
// unrecognised becomes pending.
func NormalizeTestStatus(s string) TestStatus {
	switch TestStatus(strings.ToLower(strings.TrimSpace(s))) {
	case TestPass:
		return TestPass
	case TestFail:
		return TestFail
	default:
		return TestPending
	}
}

// TestCase is a single simulated test. Duration is in milliseconds and is
// nil when the model did not report one.
type TestCase struct {
	Name     string     `json:"name"`
	Status   TestStatus `json:"status"`
	Message  string     `json:"message,omitempty"`
	Duration *float64   `json:"duration,omitempty"`
}

// TestResult is a normalized test report.
//
// # Description
//
// Success is never taken from the model. It is always computed by
// DeriveSuccess over Tests and Errors.
type TestResult struct {
	Success bool       `json:"success"`
	Tests   []TestCase `json:"tests"`
	Summary string     `json:"summary"`
	Errors  []string   `json:"errors"`
}

// DeriveSuccess is true only for a non-empty, all-passing report with no
// errors.
//
// # Examples
//
//	DeriveSuccess(nil, nil)                                   // false
//	DeriveSuccess([]TestCase{{Status: TestPass}}, nil)        // true
//	DeriveSuccess([]TestCase{{Status: TestPass}}, []string{"x"}) // false
func DeriveSuccess(tests []TestCase, errs []string) bool {
	if len(tests) == 0 || len(errs) > 0 {
		return false
	}
	for _, tc := range tests {
		if tc.Status != TestPass {
			return false
		}
	}
	return true
}

// FailingTests returns the cases whose status is not pass.
func (r *TestResult) FailingTests() []TestCase {
	var out []TestCase
	for _, tc := range r.Tests {
		if tc.Status != TestPass {
			out = append(out, tc)
		}
	}
	return out
}

// Clone returns a deep copy.
func (r *TestResult) Clone() *TestResult {
	if r == nil {
		return nil
	}
	out := &TestResult{
		Success: r.Success,
		Summary: r.Summary,
		Errors:  append([]string(nil), r.Errors...),
	}
	if r.Tests != nil {
		out.Tests = make([]TestCase, len(r.Tests))
		for i, tc := range r.Tests {
			out.Tests[i] = tc
			if tc.Duration != nil {
				d := *tc.Duration
				out.Tests[i].Duration = &d
			}
		}
	}
	return out
}

// =============================================================================
// Fixes
// =============================================================================

// DiffStats summarises the line delta between the code before and after a fix.
type DiffStats struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// FixResult is one repair proposed by the model.
type FixResult struct {
	Code        string     `json:"code"`
	Changes     []string   `json:"changes"`
	Explanation string     `json:"explanation"`
	Stats       *DiffStats `json:"stats,omitempty"`
}

// =============================================================================
// Workflow State
// =============================================================================

// WorkflowState is the observable state of one run.
//
// # Description
//
// Owned and mutated only by the workflow orchestrator. Observers always
// receive a Clone, so holding on to a snapshot is safe.
type WorkflowState struct {
	Step          WorkflowStep `json:"step"`
	Requirement   string       `json:"requirement"`
	Language      Language     `json:"language"`
	Framework     string       `json:"framework,omitempty"`
	Code          string       `json:"code"`
	Explanation   string       `json:"explanation"`
	TestResult    *TestResult  `json:"test_result,omitempty"`
	FixHistory    []FixResult  `json:"fix_history"`
	Iteration     int          `json:"iteration"`
	MaxIterations int          `json:"max_iterations"`
	LastError     string       `json:"last_error,omitempty"`
}

// Clone returns a deep copy of the state.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.TestResult = s.TestResult.Clone()
	if s.FixHistory != nil {
		out.FixHistory = make([]FixResult, len(s.FixHistory))
		for i, f := range s.FixHistory {
			out.FixHistory[i] = f
			out.FixHistory[i].Changes = append([]string(nil), f.Changes...)
			if f.Stats != nil {
				st := *f.Stats
				out.FixHistory[i].Stats = &st
			}
		}
	}
	return out
}
