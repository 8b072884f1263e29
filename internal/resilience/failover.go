package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sweetmill/sweetmill/pkg/provider/llm"
)

// ErrAllProvidersFailed is returned when every backend in a [Failover] chain
// fails or sits behind an open breaker.
var ErrAllProvidersFailed = errors.New("resilience: all providers failed")

// backendEntry pairs a model backend with its dedicated breaker.
type backendEntry struct {
	name     string
	provider llm.Provider
	breaker  *CircuitBreaker
}

// Failover implements [llm.Provider] over an ordered chain of backends.
// The primary is tried first; when it errors or its breaker is open, the
// next entry takes the call. Failover happens per model call, so a broken
// primary never interrupts a conversation mid-turn — the fallback simply
// serves the next request.
type Failover struct {
	entries []backendEntry
	cfg     BreakerConfig
}

var _ llm.Provider = (*Failover)(nil)

// NewFailover creates a [Failover] with primary as the preferred backend.
// cfg configures the per-backend circuit breakers.
func NewFailover(primaryName string, primary llm.Provider, cfg BreakerConfig) *Failover {
	f := &Failover{cfg: cfg}
	f.Add(primaryName, primary)
	return f
}

// Add appends a fallback backend. Fallbacks are tried in registration order.
// Not safe to call concurrently with in-flight requests.
func (f *Failover) Add(name string, p llm.Provider) {
	cfg := f.cfg
	cfg.Name = name
	f.entries = append(f.entries, backendEntry{
		name:     name,
		provider: p,
		breaker:  NewCircuitBreaker(cfg),
	})
}

// attempt walks the chain until fn succeeds against one backend.
func attempt[R any](f *Failover, fn func(llm.Provider) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range f.entries {
		e := &f.entries[i]
		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(e.provider)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend, circuit open", "provider", e.name)
		} else {
			slog.Warn("backend failed, trying next",
				"provider", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// Complete forwards the request to the first healthy backend.
func (f *Failover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return attempt(f, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy backend. Failover
// covers the connection attempt only; mid-stream errors surface as error
// chunks from the chosen backend.
func (f *Failover) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return attempt(f, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend.
func (f *Failover) CountTokens(messages []llm.Message) (int, error) {
	return attempt(f, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata does not
// participate in failover.
func (f *Failover) Capabilities() llm.ModelCapabilities {
	if len(f.entries) == 0 {
		return llm.ModelCapabilities{}
	}
	return f.entries[0].provider.Capabilities()
}
