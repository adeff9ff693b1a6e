package steward

import (
	"context"
	"testing"
	"time"
)

func TestRetryRecoversTransientFailure(t *testing.T) {
	inner := &mockProvider{
		errs:      []error{&ErrLLM{Provider: "mock", Kind: LLMRateLimited, Message: "slow down"}},
		responses: []ChatResponse{{}, textResponse("second try")},
	}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "second try" || inner.calls() != 2 {
		t.Errorf("resp = %q after %d calls, want second try after 2", resp.Content, inner.calls())
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	down := &ErrLLM{Provider: "mock", Kind: LLMUnavailable, Message: "down"}
	inner := &mockProvider{errs: []error{down, down, down}}
	p := WithRetry(inner, RetryMaxAttempts(3), RetryBaseDelay(time.Millisecond))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if LLMKind(err) != LLMUnavailable {
		t.Errorf("Chat() error = %v, want the final unavailable", err)
	}
	if inner.calls() != 3 {
		t.Errorf("calls = %d, want 3", inner.calls())
	}
}

func TestRetrySkipsNonTransientKinds(t *testing.T) {
	for _, kind := range []LLMErrorKind{LLMSchemaViolation, LLMContextOverflow, LLMTimeout} {
		inner := &mockProvider{errs: []error{&ErrLLM{Provider: "mock", Kind: kind, Message: "no"}}}
		p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

		_, err := p.Chat(context.Background(), ChatRequest{})
		if LLMKind(err) != kind {
			t.Errorf("kind %s: error = %v, want passthrough", kind, err)
		}
		if inner.calls() != 1 {
			t.Errorf("kind %s: calls = %d, want 1 with no retry", kind, inner.calls())
		}
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	down := &ErrLLM{Provider: "mock", Kind: LLMUnavailable, Message: "down"}
	inner := &mockProvider{errs: []error{down, down, down}}
	p := WithRetry(inner, RetryBaseDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Chat(ctx, ChatRequest{})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Chat() error = nil, want cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Chat() kept backing off past cancellation")
	}
	if inner.calls() != 1 {
		t.Errorf("calls = %d, want 1 before the cancelled backoff", inner.calls())
	}
}
