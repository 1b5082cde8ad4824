// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/AleutianAI/AleutianForge/services/forge/runs"
	"github.com/AleutianAI/AleutianForge/services/forge/workflow"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// statusCancelled is nginx's "client closed request", used when the caller
// went away mid-operation.
const statusCancelled = 499

// statusForError maps an error to an HTTP status code. Every handler goes
// through here.
func statusForError(err error) int {
	switch {
	case errors.Is(err, operations.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, runs.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, runs.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, runs.ErrRunBusy), errors.Is(err, workflow.ErrNoCode):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return statusCancelled
	default:
		return http.StatusInternalServerError
	}
}

// errorCodeFor categorizes an error for metrics.
func errorCodeFor(err error) observability.ErrorCode {
	switch {
	case errors.Is(err, operations.ErrValidation):
		return observability.ErrorCodeValidation
	case errors.Is(err, llm.ErrMissingCredential):
		return observability.ErrorCodeCredential
	case errors.Is(err, llm.ErrExhaustedRetries), llm.IsRateLimited(err):
		return observability.ErrorCodeRateLimited
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observability.ErrorCodeCancelled
	default:
		return observability.ErrorCodeUpstream
	}
}
