package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a go-openai backed ChatModel.
//
// # Description
//
// Opens the sealed credential, configures the base URL and, when ProxyURL
// is set, a forward proxy for this client's transport only.
//
// # Outputs
//
//   - *OpenAIClient: Ready-to-use client
//   - error: ErrMissingCredential when no key is configured, or a proxy URL error
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	cfg = cfg.withDefaults()
	apiKey, err := cfg.APIKey.Reveal()
	if err != nil {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", apiKeySecretPath)
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil || proxy.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q: %v", cfg.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxy)
		slog.Info("Routing model requests through proxy", "proxy_host", proxy.Host)
	}

	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Transport: &retryHintTransport{base: transport}}

	slog.Info("Initializing OpenAI client", "model", cfg.Model, "base_url", oc.BaseURL)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}, nil
}

// Model returns the configured model identifier.
func (o *OpenAIClient) Model() string { return o.model }

// Complete implements the ChatModel interface
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	slog.Debug("Requesting completion via OpenAI", "model", o.model, "json", req.JSONResponse)

	hint := &retryHint{}
	ctx = context.WithValue(ctx, retryHintKey{}, hint)

	chatReq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
	}
	if req.JSONResponse {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if code := statusCodeOf(err); code != 0 {
			return nil, &StatusError{StatusCode: code, RetryAfter: hint.retryAfter, Err: err}
		}
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return &CompletionResponse{Model: resp.Model}, nil
	}

	choice := resp.Choices[0]
	slog.Debug("Received response from OpenAI", "finish_reason", choice.FinishReason)
	return &CompletionResponse{
		Content:          choice.Message.Content,
		Model:            resp.Model,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// =============================================================================
// Retry-After capture
// =============================================================================

// go-openai does not surface response headers on errors, so the transport
// stashes the Retry-After hint on a per-call holder carried by the context.

type retryHintKey struct{}

type retryHint struct {
	retryAfter time.Duration
}

type retryHintTransport struct {
	base http.RoundTripper
}

func (t *retryHintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if hint, ok := req.Context().Value(retryHintKey{}).(*retryHint); ok {
			hint.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
	}
	return resp, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

var _ ChatModel = (*OpenAIClient)(nil)

