// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package operations implements the three prompted model operations:
// generate, test and fix.
//
// # Description
//
// Every operation validates its inputs, builds a fixed system prompt and a
// templated user prompt, asks the model for a JSON object, and maps the
// tolerant parse of the reply onto a typed result with a default for every
// field. A malformed reply therefore degrades to placeholder values instead
// of failing the call.
//
// The test operation deliberately returns the raw reply. Turning it into a
// datatypes.TestResult, including recomputing Success, is done by
// NormalizeTestReport at the trust boundary.
package operations

import (
	"context"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/parser"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var opsTracer = otel.Tracer("aleutian.forge.operations")

// Default field values used when the model omits a field.
const (
	DefaultCode            = "// No code generated"
	DefaultExplanation     = "No explanation provided"
	TestReportExplanation  = "Tests generated and executed"
	DefaultTestSummary     = "Failed to parse test results"
	DefaultFixExplanation  = "No explanation"
	DefaultFixChange       = "No changes made"
	emptyModelReplyDefault = "{}"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Operations is the contract consumed by the workflow orchestrator and the
// HTTP handlers.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Operations interface {
	// Generate produces source code for a requirement.
	Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error)

	// Test asks the model to simulate a test run. The report is not
	// normalized; see NormalizeTestReport.
	Test(ctx context.Context, in TestInput) (*TestReport, error)

	// Fix asks the model to repair code given a list of errors.
	Fix(ctx context.Context, in FixInput) (*datatypes.FixResult, error)
}

// GenerateInput holds the inputs of Generate. Framework is optional.
type GenerateInput struct {
	Requirement string
	Language    string
	Framework   string
}

// GenerateOutput is the normalized result of Generate.
type GenerateOutput struct {
	Code        string
	Explanation string
	Language    datatypes.Language
}

// TestInput holds the inputs of Test. Requirement is optional.
type TestInput struct {
	Code        string
	Language    string
	Requirement string
}

// TestReport carries the model's raw test report text.
type TestReport struct {
	Raw         string
	Explanation string
}

// FixInput holds the inputs of Fix. TestResults is embedded in the prompt
// verbatim; callers usually pass the JSON of the last TestResult.
type FixInput struct {
	Code        string
	Language    string
	Errors      []string
	TestResults string
}

// =============================================================================
// Implementation
// =============================================================================

// Service implements Operations on top of an llm.ChatModel.
//
// # Description
//
// The model is injected once and never replaced. Wrap it in an
// llm.ResilientClient to get rate-limit retries.
type Service struct {
	model llm.ChatModel
}

// NewService creates a Service backed by model.
func NewService(model llm.ChatModel) *Service {
	return &Service{model: model}
}

// Generate implements Operations.
//
// # Description
//
// Rejects an empty requirement or an unsupported language with a
// *ValidationError before any model call. Missing fields in the reply fall
// back to DefaultCode and DefaultExplanation.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	lang := datatypes.Language(in.Language)

	ctx, span := opsTracer.Start(ctx, "operations.Generate", trace.WithAttributes(
		attribute.String("forge.language", string(lang)),
		attribute.Int("forge.requirement.bytes", len(in.Requirement)),
	))
	defer span.End()

	content, err := s.complete(ctx, span, llm.CompletionRequest{
		System:       generateSystemPrompt,
		User:         buildGeneratePrompt(in.Requirement, string(lang), in.Framework),
		Temperature:  generateTemperature,
		JSONResponse: true,
	})
	if err != nil {
		return nil, err
	}

	parsed := parser.Parse(content)
	return &GenerateOutput{
		Code:        parser.String(parsed, "code", DefaultCode),
		Explanation: parser.String(parsed, "explanation", DefaultExplanation),
		Language:    lang,
	}, nil
}

// Test implements Operations.
func (s *Service) Test(ctx context.Context, in TestInput) (*TestReport, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	lang := datatypes.Language(in.Language)

	ctx, span := opsTracer.Start(ctx, "operations.Test", trace.WithAttributes(
		attribute.String("forge.language", string(lang)),
		attribute.Int("forge.code.bytes", len(in.Code)),
	))
	defer span.End()

	content, err := s.complete(ctx, span, llm.CompletionRequest{
		System:       testSystemPrompt,
		User:         buildTestPrompt(in.Code, string(lang), in.Requirement),
		Temperature:  testTemperature,
		JSONResponse: true,
	})
	if err != nil {
		return nil, err
	}
	return &TestReport{Raw: content, Explanation: TestReportExplanation}, nil
}

// Fix implements Operations.
//
// # Description
//
// The fixed code falls back to the input code, never to an empty string.
// Changes fall back to a single DefaultFixChange entry.
func (s *Service) Fix(ctx context.Context, in FixInput) (*datatypes.FixResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	lang := datatypes.Language(in.Language)
	testResults := in.TestResults
	if isEmptyJSON(testResults) {
		testResults = "{}"
	}

	ctx, span := opsTracer.Start(ctx, "operations.Fix", trace.WithAttributes(
		attribute.String("forge.language", string(lang)),
		attribute.Int("forge.errors", len(in.Errors)),
	))
	defer span.End()

	content, err := s.complete(ctx, span, llm.CompletionRequest{
		System:       fixSystemPrompt,
		User:         buildFixPrompt(in.Code, string(lang), in.Errors, testResults),
		Temperature:  fixTemperature,
		JSONResponse: true,
	})
	if err != nil {
		return nil, err
	}

	parsed := parser.Parse(content)
	return &datatypes.FixResult{
		Code:        parser.String(parsed, "code", in.Code),
		Changes:     parser.StringSlice(parsed, "changes", []string{DefaultFixChange}),
		Explanation: parser.String(parsed, "explanation", DefaultFixExplanation),
	}, nil
}

// isEmptyJSON reports whether raw carries no test results: blank, or a JSON
// null, false, zero or empty string.
func isEmptyJSON(raw string) bool {
	switch strings.TrimSpace(raw) {
	case "", "null", "false", "0", `""`:
		return true
	}
	return false
}

// complete calls the model and records failures on span. An empty reply is
// treated as an empty JSON object.
func (s *Service) complete(ctx context.Context, span trace.Span, req llm.CompletionRequest) (string, error) {
	resp, err := s.model.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.CompletionTokens),
	)
	if resp.Content == "" {
		return emptyModelReplyDefault, nil
	}
	return resp.Content, nil
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Operations = (*Service)(nil)
