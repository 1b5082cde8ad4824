// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "model": "gpt-4o",
  "choices": [
    {"index": 0, "message": {"role": "assistant", "content": "{\"code\":\"x\"}"}, "finish_reason": "stop"}
  ],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

// chatRequest mirrors the subset of the OpenAI wire request we assert on.
type chatRequest struct {
	Model          string `json:"model"`
	Temperature    float32 `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestClient(t *testing.T, baseURL, proxyURL string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(ClientConfig{
		APIKey:   NewCredential("sk-test"),
		BaseURL:  baseURL,
		Model:    "gpt-4o",
		ProxyURL: proxyURL,
	})
	require.NoError(t, err)
	return client
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNewOpenAIClient_MissingCredential(t *testing.T) {
	_, err := NewOpenAIClient(ClientConfig{APIKey: NewCredential("")})
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = NewOpenAIClient(ClientConfig{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestNewOpenAIClient_InvalidProxy(t *testing.T) {
	_, err := NewOpenAIClient(ClientConfig{APIKey: NewCredential("sk"), ProxyURL: "::not a url"})
	assert.Error(t, err)
}

func TestNewOpenAIClient_Defaults(t *testing.T) {
	client, err := NewOpenAIClient(ClientConfig{APIKey: NewCredential("sk")})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.Model())
}

// =============================================================================
// Complete Tests
// =============================================================================

func TestOpenAIClient_Complete_Success(t *testing.T) {
	var got chatRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/v1", "")
	resp, err := client.Complete(context.Background(), CompletionRequest{
		System:       "sys",
		User:         "usr",
		Temperature:  0.3,
		JSONResponse: true,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"code":"x"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 0.0001)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "usr", got.Messages[1].Content)
}

func TestOpenAIClient_Complete_RateLimitCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "20")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")
	_, err := client.Complete(context.Background(), CompletionRequest{User: "x"})

	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 20*time.Second, RetryAfterOf(err))
}

func TestOpenAIClient_Complete_ServerErrorIsNotRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"internal"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")
	_, err := client.Complete(context.Background(), CompletionRequest{User: "x"})

	require.Error(t, err)
	assert.False(t, IsRateLimited(err))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

func TestOpenAIClient_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","model":"gpt-4o","choices":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")
	resp, err := client.Complete(context.Background(), CompletionRequest{User: "x"})

	require.NoError(t, err)
	assert.Empty(t, resp.Content)
}

func TestOpenAIClient_Complete_RoutesThroughProxy(t *testing.T) {
	upstream, err := url.Parse("http://model.invalid/v1")
	require.NoError(t, err)

	proxied := false
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A forward proxy sees the absolute target URL.
		proxied = r.URL.Host == upstream.Host
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer proxy.Close()

	client := newTestClient(t, upstream.String(), proxy.URL)
	_, err = client.Complete(context.Background(), CompletionRequest{User: "x"})

	require.NoError(t, err)
	assert.True(t, proxied)
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-4", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}

func TestCredential(t *testing.T) {
	cred := NewCredential("sk-secret")
	assert.True(t, cred.IsSet())
	assert.Equal(t, "<redacted>", cred.String())

	key, err := cred.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", key)

	var unset *Credential
	assert.False(t, unset.IsSet())
	_, err = unset.Reveal()
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("HTTP_PROXY", "http://proxy.local:3128")

	cfg := ConfigFromEnv()

	assert.True(t, cfg.APIKey.IsSet())
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, "http://proxy.local:3128", cfg.ProxyURL)
}
