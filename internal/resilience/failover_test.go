package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/sweetmill/sweetmill/pkg/provider/llm"
	llmmock "github.com/sweetmill/sweetmill/pkg/provider/llm/mock"
)

func TestFailover_PrimaryHealthy(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		Responses: []*llm.CompletionResponse{{Content: "первый", FinishReason: "stop"}},
	}
	fallback := &llmmock.Provider{}

	f := NewFailover("primary", primary, BreakerConfig{})
	f.Add("fallback", fallback)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "первый" {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if fallback.Calls() != 0 {
		t.Errorf("fallback must not be called while primary is healthy, got %d calls", fallback.Calls())
	}
}

func TestFailover_FallsBackOnError(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		ErrFunc: func(int) error { return errors.New("rate limited") },
	}
	fallback := &llmmock.Provider{
		Responses: []*llm.CompletionResponse{{Content: "запасной", FinishReason: "stop"}},
	}

	f := NewFailover("primary", primary, BreakerConfig{})
	f.Add("fallback", fallback)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "запасной" {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if primary.Calls() != 1 || fallback.Calls() != 1 {
		t.Errorf("calls: primary=%d fallback=%d, want 1/1", primary.Calls(), fallback.Calls())
	}
}

func TestFailover_AllFail(t *testing.T) {
	t.Parallel()

	boom := func(int) error { return errors.New("boom") }
	f := NewFailover("a", &llmmock.Provider{ErrFunc: boom}, BreakerConfig{})
	f.Add("b", &llmmock.Provider{ErrFunc: boom})

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestFailover_OpenBreakerSkipsPrimary(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		ErrFunc: func(int) error { return errors.New("down") },
	}
	fallback := &llmmock.Provider{
		Responses: []*llm.CompletionResponse{
			{Content: "1", FinishReason: "stop"},
			{Content: "2", FinishReason: "stop"},
		},
	}

	f := NewFailover("primary", primary, BreakerConfig{FailureThreshold: 1})
	f.Add("fallback", fallback)

	if _, err := f.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := f.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("second call: %v", err)
	}

	// The primary's breaker opened after its single failure, so the second
	// call must not have reached it.
	if primary.Calls() != 1 {
		t.Errorf("primary calls = %d, want 1", primary.Calls())
	}
	if fallback.Calls() != 2 {
		t.Errorf("fallback calls = %d, want 2", fallback.Calls())
	}
}

func TestFailover_CapabilitiesFromPrimary(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		Caps: llm.ModelCapabilities{ContextWindow: 200_000, SupportsToolCalling: true},
	}
	f := NewFailover("primary", primary, BreakerConfig{})

	caps := f.Capabilities()
	if !caps.SupportsToolCalling || caps.ContextWindow != 200_000 {
		t.Errorf("unexpected capabilities: %+v", caps)
	}
}
