// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package operations

import (
	"context"
	"errors"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports a missing or invalid operation input. It is raised
// before any model call and is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func invalidLanguage() error {
	return invalid("language", "Invalid language. Supported: "+datatypes.SupportedLanguageList())
}

// =============================================================================
// Input Validation
// =============================================================================

// Validate checks the requirement and language. A missing language is
// reported as unsupported.
func (in GenerateInput) Validate() error {
	if strings.TrimSpace(in.Requirement) == "" {
		return invalid("requirement", "Requirement is required")
	}
	if !datatypes.Language(in.Language).IsSupported() {
		return invalidLanguage()
	}
	return nil
}

// Validate checks the code and language.
func (in TestInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return invalid("code", "Code is required for testing")
	}
	return checkLanguage(in.Language)
}

// Validate checks the code, language and error list.
func (in FixInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return invalid("code", "Code is required for fixing")
	}
	if err := checkLanguage(in.Language); err != nil {
		return err
	}
	if len(in.Errors) == 0 {
		return invalid("errors", "Errors list is required")
	}
	return nil
}

// checkLanguage enforces presence, then membership.
func checkLanguage(lang string) error {
	if lang == "" {
		return invalid("language", "Language is required")
	}
	if !datatypes.Language(lang).IsSupported() {
		return invalidLanguage()
	}
	return nil
}

// =============================================================================
// User-Facing Messages
// =============================================================================

// Kind names an operation for error reporting.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindTest     Kind = "test"
	KindFix      Kind = "fix"
)

// Messages shown to callers when an operation fails.
const (
	MsgMissingCredential = "OpenAI API key not configured. Please set OPENAI_API_KEY in .env"
	MsgRateLimited       = "The model is rate limiting requests. Please try again later."
	MsgCancelled         = "Run cancelled"
	MsgTimedOut          = "Run timed out"
	MsgGenerateFailed    = "Failed to generate code. Please try again."
	MsgTestFailed        = "Failed to run tests. Please try again."
	MsgFixFailed         = "Failed to fix code. Please try again."
)

// UserMessage composes the message shown for a failed operation. Internal
// error text is never exposed except for validation errors.
//
// # Examples
//
//	UserMessage(KindGenerate, llm.ErrMissingCredential) // MsgMissingCredential
//	UserMessage(KindFix, errors.New("dial tcp: ..."))   // MsgFixFailed
func UserMessage(kind Kind, err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, llm.ErrMissingCredential):
		return MsgMissingCredential
	case errors.Is(err, llm.ErrExhaustedRetries):
		return MsgRateLimited
	case errors.Is(err, context.Canceled):
		return MsgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimedOut
	}
	switch kind {
	case KindGenerate:
		return MsgGenerateFailed
	case KindTest:
		return MsgTestFailed
	default:
		return MsgFixFailed
	}
}
