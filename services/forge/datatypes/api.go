// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxFieldBytes caps requirement and code payloads.
	MaxFieldBytes = 256 * 1024

	// MaxRunIterations is the largest fix budget a caller may request.
	MaxRunIterations = 10
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// forgeValidate is the validator instance for forge wire types.
var forgeValidate *validator.Validate

func init() {
	forgeValidate = validator.New()

	_ = forgeValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = forgeValidate.RegisterValidation("forgelang", validateLanguage)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxFieldBytes
}

// validateLanguage checks membership in the supported language set.
func validateLanguage(fl validator.FieldLevel) bool {
	return Language(fl.Field().String()).IsSupported()
}

// DescribeValidation turns a validator error into a single user-facing
// message. Non-validator errors are returned verbatim.
func DescribeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "forgelang":
		return "Invalid language. Supported: " + SupportedLanguageList()
	case "maxbytes":
		return fmt.Sprintf("%s exceeds the %d byte limit", fe.Field(), MaxFieldBytes)
	case "max", "lte", "gte", "min":
		return fmt.Sprintf("%s is out of range", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// =============================================================================
// Operation Request/Response Types
// =============================================================================

// GenerateRequest is the body of POST /v1/generate.
//
// Presence and language checks happen in the operations layer so the HTTP,
// CLI and workflow paths share one set of messages. Validate only enforces
// size limits.
type GenerateRequest struct {
	Requirement string `json:"requirement" validate:"maxbytes"`
	Language    string `json:"language"`
	Framework   string `json:"framework,omitempty" validate:"max=100"`
}

// Validate validates the GenerateRequest fields.
func (r *GenerateRequest) Validate() error {
	return forgeValidate.Struct(r)
}

// GenerateResponse is returned by POST /v1/generate.
type GenerateResponse struct {
	Code        string   `json:"code"`
	Explanation string   `json:"explanation"`
	Language    Language `json:"language"`
}

// TestRequest is the body of POST /v1/test.
type TestRequest struct {
	Code        string `json:"code" validate:"maxbytes"`
	Language    string `json:"language"`
	Requirement string `json:"requirement,omitempty" validate:"maxbytes"`
}

// Validate validates the TestRequest fields.
func (r *TestRequest) Validate() error {
	return forgeValidate.Struct(r)
}

// FixRequest is the body of POST /v1/fix. TestResults is passed to the model
// as-is.
type FixRequest struct {
	Code        string          `json:"code" validate:"maxbytes"`
	Language    string          `json:"language"`
	Errors      []string        `json:"errors" validate:"max=200"`
	TestResults json.RawMessage `json:"testResults,omitempty"`
}

// Validate validates the FixRequest fields.
func (r *FixRequest) Validate() error {
	return forgeValidate.Struct(r)
}

// FixResponse is returned by POST /v1/fix.
type FixResponse struct {
	Code        string   `json:"code"`
	Changes     []string `json:"changes"`
	Explanation string   `json:"explanation"`
}

// =============================================================================
// Run Types
// =============================================================================

// Run modes accepted by POST /v1/runs.
const (
	// RunModeAuto generates, tests and fixes in one go. It is the default.
	RunModeAuto = "auto"

	// RunModeGenerate stops at "generated" and waits for a test trigger.
	RunModeGenerate = "generate"
)

// RunRequest starts an asynchronous run via POST /v1/runs.
type RunRequest struct {
	Requirement string `json:"requirement" validate:"required,maxbytes"`
	Language    string `json:"language" validate:"required,forgelang"`
	Framework   string `json:"framework,omitempty" validate:"max=100"`
	// MaxIterations overrides the server's fix budget when set.
	MaxIterations *int   `json:"max_iterations,omitempty" validate:"omitempty,gte=0,lte=10"`
	Mode          string `json:"mode,omitempty" validate:"omitempty,oneof=auto generate"`
}

// Validate validates the RunRequest fields.
func (r *RunRequest) Validate() error {
	return forgeValidate.Struct(r)
}

// TestRunRequest is the body of POST /v1/runs/:runId/test.
type TestRunRequest struct {
	// Continue keeps the spent fix budget and history instead of starting over.
	Continue bool `json:"continue"`
	// Code replaces the run's code before testing. Empty keeps it.
	Code string `json:"code,omitempty" validate:"maxbytes"`
}

// Validate validates the TestRunRequest fields.
func (r *TestRunRequest) Validate() error {
	return forgeValidate.Struct(r)
}

// RunResponse describes an asynchronous run.
type RunResponse struct {
	RunID      string        `json:"run_id"`
	State      WorkflowState `json:"state"`
	Done       bool          `json:"done"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// RunEvent is pushed to websocket observers after every state transition.
type RunEvent struct {
	RunID string        `json:"run_id"`
	Seq   int           `json:"seq"`
	State WorkflowState `json:"state"`
	Done  bool          `json:"done"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
