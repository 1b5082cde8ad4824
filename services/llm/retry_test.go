// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// scriptedModel returns the scripted errors in order, then succeeds.
type scriptedModel struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (m *scriptedModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &CompletionResponse{Content: `{"ok":true}`}, nil
}

func rateLimited(retryAfter time.Duration) error {
	return &StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter, Err: errors.New("rate limit reached")}
}

// recordingSleeper captures requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

// =============================================================================
// RetryPolicy Tests
// =============================================================================

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		name       string
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{"first attempt no hint", 0, 0, 15 * time.Second},
		{"second attempt no hint", 1, 0, 30 * time.Second},
		{"fifth attempt no hint", 4, 0, 240 * time.Second},
		{"hint below base", 3, 2 * time.Second, 15 * time.Second},
		{"hint above base", 0, 40 * time.Second, 40 * time.Second},
		{"negative attempt clamps", -1, 0, 15 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Delay(tt.attempt, tt.retryAfter))
		})
	}
}

// =============================================================================
// ResilientClient Tests
// =============================================================================

func TestResilientClient_SuccessFirstTry(t *testing.T) {
	model := &scriptedModel{}
	sleeper := &recordingSleeper{}
	client := NewResilientClient(model, DefaultRetryPolicy(), WithSleeper(sleeper.sleep))

	resp, err := client.Complete(context.Background(), CompletionRequest{User: "hi"})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 1, model.calls)
	assert.Empty(t, sleeper.delays)
}

func TestResilientClient_RecoversAfterRateLimit(t *testing.T) {
	model := &scriptedModel{errs: []error{rateLimited(0), rateLimited(0)}}
	sleeper := &recordingSleeper{}
	client := NewResilientClient(model, DefaultRetryPolicy(), WithSleeper(sleeper.sleep))

	resp, err := client.Complete(context.Background(), CompletionRequest{})

	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, 3, model.calls)
	assert.Equal(t, []time.Duration{15 * time.Second, 30 * time.Second}, sleeper.delays)
}

func TestResilientClient_ExhaustsAfterFiveRetries(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = rateLimited(0)
	}
	model := &scriptedModel{errs: errs}
	sleeper := &recordingSleeper{}
	var hooked []int
	client := NewResilientClient(model, DefaultRetryPolicy(),
		WithSleeper(sleeper.sleep),
		WithRetryHook(func(attempt int, delay time.Duration) { hooked = append(hooked, attempt) }),
	)

	_, err := client.Complete(context.Background(), CompletionRequest{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.Equal(t, 6, model.calls, "first attempt plus five retries")
	require.Len(t, sleeper.delays, 5)
	for i := 1; i < len(sleeper.delays); i++ {
		assert.GreaterOrEqual(t, sleeper.delays[i], sleeper.delays[i-1], "backoff must not decrease")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, hooked)
}

func TestResilientClient_HonoursRetryAfterHint(t *testing.T) {
	model := &scriptedModel{errs: []error{rateLimited(45 * time.Second), rateLimited(3 * time.Second)}}
	sleeper := &recordingSleeper{}
	client := NewResilientClient(model, DefaultRetryPolicy(), WithSleeper(sleeper.sleep))

	_, err := client.Complete(context.Background(), CompletionRequest{})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{45 * time.Second, 15 * time.Second}, sleeper.delays)
}

func TestResilientClient_NonRateLimitFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"server error", &StatusError{StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}},
		{"bad request", &StatusError{StatusCode: http.StatusBadRequest, Err: errors.New("bad")}},
		{"network", errors.New("connection reset by peer")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedModel{errs: []error{tt.err}}
			sleeper := &recordingSleeper{}
			client := NewResilientClient(model, DefaultRetryPolicy(), WithSleeper(sleeper.sleep))

			_, err := client.Complete(context.Background(), CompletionRequest{})

			require.Error(t, err)
			var upstream *UpstreamError
			assert.True(t, errors.As(err, &upstream))
			assert.ErrorIs(t, err, tt.err)
			assert.NotErrorIs(t, err, ErrExhaustedRetries)
			assert.Equal(t, 1, model.calls)
			assert.Empty(t, sleeper.delays)
		})
	}
}

func TestResilientClient_MissingCredentialPassesThrough(t *testing.T) {
	client := NewResilientClient(Unconfigured(nil), DefaultRetryPolicy())

	_, err := client.Complete(context.Background(), CompletionRequest{})

	assert.ErrorIs(t, err, ErrMissingCredential)
	var upstream *UpstreamError
	assert.False(t, errors.As(err, &upstream))
}

func TestResilientClient_CancelledDuringBackoff(t *testing.T) {
	model := &scriptedModel{errs: []error{rateLimited(0), rateLimited(0)}}
	ctx, cancel := context.WithCancel(context.Background())
	client := NewResilientClient(model, DefaultRetryPolicy(), WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := client.Complete(ctx, CompletionRequest{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, model.calls)
}

func TestResilientClient_RealSleepHonoursContext(t *testing.T) {
	model := &scriptedModel{errs: []error{rateLimited(0)}}
	client := NewResilientClient(model, RetryPolicy{MaxRetries: 1, BaseDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := client.Complete(ctx, CompletionRequest{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestNewResilientClient_NormalisesPolicy(t *testing.T) {
	client := NewResilientClient(&scriptedModel{}, RetryPolicy{MaxRetries: -3})

	assert.Equal(t, 0, client.Policy().MaxRetries)
	assert.Equal(t, DefaultBaseDelay, client.Policy().BaseDelay)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(rateLimited(0)))
	assert.False(t, IsRateLimited(&StatusError{StatusCode: http.StatusBadGateway}))
	assert.False(t, IsRateLimited(errors.New("429 in text only")))
	assert.False(t, IsRateLimited(nil))
}
