package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sweetmill/sweetmill/internal/observe"
	"github.com/sweetmill/sweetmill/pkg/provider/llm"
)

// DefaultMaxRounds caps how many model rounds one user message may consume.
const DefaultMaxRounds = 10

// roundCapAnswer is returned when the loop exhausts its round budget. A
// degraded answer, not an error: the user keeps a usable reply.
const roundCapAnswer = "Запрос оказался слишком сложным: превышен лимит обращений к данным. " +
	"Попробуйте разбить вопрос на несколько более простых."

// providerErrorNote annotates the transcript when the model call itself
// failed, so the next turn sees why the previous one produced no answer.
const providerErrorNote = "[ошибка: не удалось получить ответ модели]"

// Orchestrator drives the conversation loop for one user message: it calls
// the model, executes any requested tool invocations, feeds the results back,
// and repeats until the model answers in plain text or the round cap is hit.
type Orchestrator struct {
	provider     llm.Provider
	providerName string
	dispatcher   *Dispatcher
	metrics      *observe.Metrics
	log          *slog.Logger

	maxRounds   int
	temperature float64
	maxTokens   int
	promptFunc  func() string
}

// Option is a functional option for Orchestrator.
type Option func(*Orchestrator)

// WithMaxRounds overrides the round cap. Values below 1 keep the default.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxRounds = n
		}
	}
}

// WithTemperature sets the sampling temperature passed to the model.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) {
		o.temperature = t
	}
}

// WithMaxTokens caps completion tokens per model call.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		o.maxTokens = n
	}
}

// WithSystemPrompt sets the prompt builder. It is re-evaluated per user
// message so the embedded date stays current in long-running sessions.
func WithSystemPrompt(f func() string) Option {
	return func(o *Orchestrator) {
		o.promptFunc = f
	}
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(o *Orchestrator) {
		o.providerName = name
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator over the given provider and
// dispatcher.
func NewOrchestrator(provider llm.Provider, dispatcher *Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:     provider,
		providerName: "llm",
		dispatcher:   dispatcher,
		log:          slog.Default(),
		maxRounds:    DefaultMaxRounds,
		promptFunc:   func() string { return SystemPrompt("", time.Now()) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask processes one user message against the session and returns the final
// assistant answer.
//
// The user message is appended to the transcript before the first model call
// and stays there even when the provider fails, so a retry carries the full
// context. Within a round, every tool invocation the model requested is
// resolved and appended as a contiguous block of tool-result messages, paired
// to its invocation by tool-call ID, before the next model call is made.
func (o *Orchestrator) Ask(ctx context.Context, sess *Session, userText string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "conversation.ask")
	defer span.End()

	sess.Append(llm.Message{Role: "user", Content: userText})

	req := llm.CompletionRequest{
		Tools:        o.dispatcher.Tools(),
		Temperature:  o.temperature,
		MaxTokens:    o.maxTokens,
		SystemPrompt: o.promptFunc(),
	}

	for round := 1; round <= o.maxRounds; round++ {
		req.Messages = sess.Messages()

		resp, err := o.complete(ctx, req)
		if err != nil {
			// Keep the turn in the transcript, annotated, and surface the
			// failure to the caller.
			sess.Append(llm.Message{Role: "assistant", Content: providerErrorNote})
			span.SetAttributes(attribute.Bool("conversation.failed", true))
			return "", fmt.Errorf("agent: model call (round %d): %w", round, err)
		}

		sess.Append(llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			o.recordRounds(ctx, round)
			span.SetAttributes(attribute.Int("conversation.rounds", round))
			return resp.Content, nil
		}

		o.log.Debug("executing tool invocations",
			"round", round, "count", len(resp.ToolCalls))

		if err := o.runInvocations(ctx, sess, resp.ToolCalls); err != nil {
			return "", err
		}
	}

	// Round cap exhausted: close the loop with a degraded answer.
	o.log.Warn("conversation round cap exceeded", "max_rounds", o.maxRounds)
	o.recordRounds(ctx, o.maxRounds)
	sess.Append(llm.Message{Role: "assistant", Content: roundCapAnswer})
	return roundCapAnswer, nil
}

// runInvocations executes all tool calls of one assistant turn, concurrently,
// and appends one tool-result message per call in the original invocation
// order.
func (o *Orchestrator) runInvocations(ctx context.Context, sess *Session, calls []llm.ToolCall) error {
	results := make([]string, len(calls))
	entries := make([]AuditEntry, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i], entries[i] = o.dispatcher.Dispatch(gctx, call)
			return gctx.Err()
		})
	}
	waitErr := g.Wait()

	// Wait returns only after every goroutine has finished, so each result is
	// populated even when ctx was cancelled mid-dispatch (Dispatch degrades
	// failures into payloads instead of erroring). The result block is
	// appended unconditionally: the assistant turn carrying the invocations is
	// already in the transcript, and a later Ask on the same session must not
	// send an invocation without its paired results.
	msgs := make([]llm.Message, len(calls))
	for i, call := range calls {
		msgs[i] = llm.Message{
			Role:       "tool",
			Content:    results[i],
			ToolCallID: call.ID,
		}
	}
	sess.Append(msgs...)
	sess.AppendAudit(entries...)

	if waitErr != nil {
		return fmt.Errorf("agent: tool invocations: %w", waitErr)
	}
	return nil
}

// complete performs one model call with latency and error accounting.
func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := observe.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(attribute.String("llm.provider", o.providerName)),
	)
	defer span.End()

	start := time.Now()
	resp, err := o.provider.Complete(ctx, req)
	elapsed := time.Since(start)

	if o.metrics != nil {
		o.metrics.LLMDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("provider", o.providerName)),
		)
		status := "ok"
		if err != nil {
			status = "error"
			o.metrics.RecordProviderError(ctx, o.providerName)
		}
		o.metrics.RecordProviderRequest(ctx, o.providerName, status)
	}

	if err != nil {
		o.log.Error("model call failed",
			"provider", o.providerName, "duration", elapsed, "error", err)
		return nil, err
	}

	o.log.Debug("model call completed",
		"provider", o.providerName,
		"duration", elapsed,
		"tool_calls", len(resp.ToolCalls),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp, nil
}

func (o *Orchestrator) recordRounds(ctx context.Context, rounds int) {
	if o.metrics != nil {
		o.metrics.ConversationRounds.Record(ctx, int64(rounds))
	}
}
