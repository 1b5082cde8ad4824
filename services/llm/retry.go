package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxRetries is the number of rate-limited retries before giving up.
	DefaultMaxRetries = 5

	// DefaultBaseDelay is the backoff unit for rate-limited retries.
	DefaultBaseDelay = 15 * time.Second
)

// RetryPolicy configures backoff for rate-limited model calls.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay is the minimum wait and the exponential backoff unit.
	BaseDelay time.Duration `yaml:"base_delay"`
}

// DefaultRetryPolicy returns 5 retries on a 15 second base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
	}
}

// Delay computes the wait before the retry that follows attempt.
//
// # Description
//
// With a server hint the delay is max(retryAfter, BaseDelay); otherwise it is
// BaseDelay * 2^attempt. attempt is zero-based.
//
// # Examples
//
//	p := DefaultRetryPolicy()
//	p.Delay(0, 0)               // 15s
//	p.Delay(2, 0)               // 60s
//	p.Delay(3, 5*time.Second)   // 15s
//	p.Delay(0, 40*time.Second)  // 40s
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if retryAfter > 0 {
		if retryAfter > p.BaseDelay {
			return retryAfter
		}
		return p.BaseDelay
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
}

// RetryHook observes each scheduled retry.
type RetryHook func(attempt int, delay time.Duration)

// ResilientOption configures a ResilientClient.
type ResilientOption func(*ResilientClient)

// WithSleeper replaces the backoff wait. Tests use it to skip real sleeps.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) ResilientOption {
	return func(c *ResilientClient) { c.sleep = sleep }
}

// WithRetryHook registers a callback invoked before every backoff wait.
func WithRetryHook(hook RetryHook) ResilientOption {
	return func(c *ResilientClient) { c.onRetry = hook }
}

// WithRequestsPerMinute paces outgoing attempts client-side. Zero disables pacing.
func WithRequestsPerMinute(rpm int) ResilientOption {
	return func(c *ResilientClient) {
		if rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
	}
}

// ResilientClient retries rate-limited calls of the wrapped ChatModel.
//
// # Description
//
// Only HTTP 429 responses are retried. Every other failure is returned on
// the first attempt as *UpstreamError. After MaxRetries rate-limited retries
// the call fails with ErrExhaustedRetries.
//
// # Thread Safety
//
// Safe for concurrent use; the client holds no per-call state.
type ResilientClient struct {
	model       ChatModel
	policy      RetryPolicy
	sleep       func(ctx context.Context, d time.Duration) error
	onRetry     RetryHook
	limiter     *rate.Limiter
	instruments *modelInstruments
}

// NewResilientClient wraps model with the given policy.
func NewResilientClient(model ChatModel, policy RetryPolicy, opts ...ResilientOption) *ResilientClient {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	c := &ResilientClient{
		model:       model,
		policy:      policy,
		sleep:       sleepContext,
		instruments: newModelInstruments(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the active retry policy.
func (c *ResilientClient) Policy() RetryPolicy { return c.policy }

// Complete implements ChatModel.
func (c *ResilientClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.instruments.record(ctx, "cancelled", start)
				return nil, err
			}
		}

		resp, err := c.model.Complete(ctx, req)
		if err == nil {
			c.instruments.record(ctx, "success", start)
			return resp, nil
		}

		if !IsRateLimited(err) {
			c.instruments.record(ctx, "upstream_error", start)
			if errors.Is(err, ErrMissingCredential) {
				return nil, err
			}
			return nil, &UpstreamError{Err: err}
		}

		lastErr = err
		if attempt == c.policy.MaxRetries {
			break
		}

		delay := c.policy.Delay(attempt, RetryAfterOf(err))
		slog.Warn("Rate limited (429), retrying",
			"delay", delay.String(),
			"attempt", attempt+1,
			"max_retries", c.policy.MaxRetries,
		)
		c.instruments.retries.Add(ctx, 1)
		if c.onRetry != nil {
			c.onRetry(attempt, delay)
		}
		if err := c.sleep(ctx, delay); err != nil {
			c.instruments.record(ctx, "cancelled", start)
			return nil, err
		}
	}

	c.instruments.record(ctx, "exhausted", start)
	return nil, fmt.Errorf("%w: %d rate-limited attempts: %v", ErrExhaustedRetries, c.policy.MaxRetries+1, lastErr)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// OpenTelemetry instruments
// =============================================================================

type modelInstruments struct {
	calls    metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram
}

func newModelInstruments() *modelInstruments {
	meter := otel.Meter("aleutian.forge.llm")
	// Names are static and valid, so creation errors are ignored.
	calls, _ := meter.Int64Counter("forge.llm.calls",
		metric.WithDescription("Model calls by final outcome"))
	retries, _ := meter.Int64Counter("forge.llm.rate_limit_retries",
		metric.WithDescription("Backoff waits scheduled after HTTP 429"))
	duration, _ := meter.Float64Histogram("forge.llm.call_duration",
		metric.WithDescription("Wall time of a model call including backoff"),
		metric.WithUnit("s"))
	return &modelInstruments{calls: calls, retries: retries, duration: duration}
}

func (m *modelInstruments) record(ctx context.Context, outcome string, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

var _ ChatModel = (*ResilientClient)(nil)
