package steward

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// retryProvider wraps a Provider and retries transient failures
// (ErrLLM kinds rate_limited and unavailable) with exponential backoff.
// Schema violations are retried by the provider itself, and context
// overflow is never retried here — the agent loop owns that reaction.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures WithRetry.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the delay before the second attempt (default 500ms).
// Each subsequent delay doubles, with jitter.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryLogger sets the structured logger for retry events.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with bounded retry on transient LLM failures. Retries
// never extend past the caller's deadline; the turn budget stays intact.
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{inner: p, maxAttempts: 3, baseDelay: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	var err error
	delay := r.baseDelay
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		resp, err = r.inner.Chat(ctx, req)
		if err == nil || !retryableLLM(err) || attempt == r.maxAttempts {
			return resp, err
		}
		r.logger.Warn("llm call failed, retrying",
			"provider", r.inner.Name(), "attempt", attempt, "error", err)
		jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		select {
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
	}
	return resp, err
}

func retryableLLM(err error) bool {
	switch LLMKind(err) {
	case LLMRateLimited, LLMUnavailable:
		return true
	}
	return false
}

var _ Provider = (*retryProvider)(nil)
