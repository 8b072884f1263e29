// Package mock provides a mock implementation of llm.Provider for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweetmill/sweetmill/pkg/provider/llm"
)

// Provider is a mock llm.Provider that records every request and replays a
// scripted sequence of responses. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Responses is the scripted queue consumed by Complete, one per call.
	// When the queue is exhausted, Complete returns ErrFunc's error if set,
	// otherwise a plain "no more scripted responses" error.
	Responses []*llm.CompletionResponse

	// ErrFunc, when set, is consulted before the response queue on every
	// Complete call. Returning a non-nil error makes the call fail without
	// consuming a scripted response.
	ErrFunc func(callIndex int) error

	// Caps is returned by Capabilities. Zero value means a tool-capable
	// streaming model with a 128k window.
	Caps llm.ModelCapabilities

	// Requests records every CompletionRequest passed to Complete or
	// StreamCompletion, in call order.
	Requests []llm.CompletionRequest

	calls int
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.calls
	p.calls++
	p.Requests = append(p.Requests, req)

	if p.ErrFunc != nil {
		if err := p.ErrFunc(idx); err != nil {
			return nil, err
		}
	}
	if idx >= len(p.Responses) {
		return nil, fmt.Errorf("mock: no more scripted responses (call %d)", idx)
	}
	return p.Responses[idx], nil
}

// StreamCompletion implements llm.Provider. It consumes the same scripted
// queue as Complete and emits the response as a single chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{
		Text:         resp.Content,
		FinishReason: resp.FinishReason,
		ToolCalls:    resp.ToolCalls,
	}
	close(ch)
	return ch, nil
}

// CountTokens implements llm.Provider using a 4-chars-per-token estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	if p.Caps == (llm.ModelCapabilities{}) {
		return llm.ModelCapabilities{
			ContextWindow:       128_000,
			MaxOutputTokens:     4_096,
			SupportsToolCalling: true,
			SupportsStreaming:   true,
		}
	}
	return p.Caps
}

// Calls returns how many completion calls the mock has served.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
