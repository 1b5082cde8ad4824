package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrMissingCredential is returned when no API key is configured.
	ErrMissingCredential = errors.New("model API key not configured")

	// ErrExhaustedRetries is returned once every rate-limited attempt is spent.
	ErrExhaustedRetries = errors.New("max retries exceeded")
)

// StatusError is a non-2xx reply from the model endpoint.
type StatusError struct {
	StatusCode int
	// RetryAfter is the server's retry hint, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// UpstreamError wraps any non-rate-limit failure of a model call. It is never
// retried.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("model call failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries an HTTP 429 signal.
func IsRateLimited(err error) bool {
	return statusCodeOf(err) == http.StatusTooManyRequests
}

// RetryAfterOf returns the server retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// statusCodeOf extracts an HTTP status from our own or go-openai's error types.
func statusCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
