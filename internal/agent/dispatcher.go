package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetmill/sweetmill/internal/observe"
	"github.com/sweetmill/sweetmill/internal/store"
	"github.com/sweetmill/sweetmill/pkg/provider/llm"
)

// auditPreviewLimit caps the stored result preview, in runes.
const auditPreviewLimit = 500

// AuditEntry records one tool invocation for the session audit log.
type AuditEntry struct {
	// Tool is the capability name the model invoked.
	Tool string

	// Arguments is the raw JSON argument string from the model.
	Arguments string

	// Preview is the result payload truncated to auditPreviewLimit runes.
	Preview string

	// Status is "ok", "error" (capability failed or degraded) or "unknown"
	// (no such capability).
	Status string

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// Dispatcher executes tool invocations requested by the model. It never
// returns an error to the caller: every failure mode is converted into a
// structured JSON payload the model can read and recover from.
type Dispatcher struct {
	registry *Registry
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry. A nil logger
// falls back to slog.Default.
func NewDispatcher(registry *Registry, metrics *observe.Metrics, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{registry: registry, metrics: metrics, log: log}
}

// Tools returns the tool definitions offered to the model.
func (d *Dispatcher) Tools() []llm.ToolDefinition {
	return d.registry.ToolDefinitions()
}

// Dispatch executes a single tool call and returns the serialized result
// payload plus the audit entry describing the invocation.
//
// Unknown tool names and malformed arguments produce an {"error": ...}
// payload; data-layer failures produce an empty envelope with an explanatory
// message. Malformed model input must never crash the loop.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall) (string, AuditEntry) {
	start := time.Now()
	entry := AuditEntry{Tool: call.Name, Arguments: call.Arguments}

	ctx, span := observe.StartSpan(ctx, "tool "+call.Name,
		trace.WithAttributes(attribute.String("tool.name", call.Name)),
	)
	defer span.End()

	result, status := d.execute(ctx, call)

	entry.Status = status
	entry.Duration = time.Since(start)
	entry.Preview = truncate(result, auditPreviewLimit)

	if d.metrics != nil {
		d.metrics.RecordToolCall(ctx, call.Name, status)
		d.metrics.ToolExecutionDuration.Record(ctx, entry.Duration.Seconds(),
			metric.WithAttributes(attribute.String("tool", call.Name)),
		)
	}
	d.log.Debug("tool dispatched",
		"tool", call.Name,
		"status", status,
		"duration", entry.Duration,
	)

	return result, entry
}

func (d *Dispatcher) execute(ctx context.Context, call llm.ToolCall) (result, status string) {
	c, ok := d.registry.Lookup(call.Name)
	if !ok {
		d.log.Warn("unknown tool requested", "tool", call.Name)
		return errorPayload(fmt.Sprintf("неизвестный инструмент %q", call.Name)), "unknown"
	}

	args := Arguments{}
	if raw := call.Arguments; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			d.log.Warn("malformed tool arguments", "tool", call.Name, "error", err)
			return errorPayload("не удалось разобрать аргументы: " + err.Error()), "error"
		}
	}

	env, err := c.Handler(ctx, args)
	if err != nil {
		// Data-layer failures degrade to an empty result so the model can
		// still answer, rather than aborting the whole conversation.
		d.log.Warn("capability failed", "tool", call.Name, "error", err)
		env = &store.Envelope{
			Type:    c.ResultType,
			Data:    []map[string]any{},
			Message: "Данные временно недоступны, попробуйте уточнить запрос позже",
		}
		status = "error"
	} else {
		status = "ok"
	}

	payload, err := env.JSON()
	if err != nil {
		d.log.Error("serialize tool result", "tool", call.Name, "error", err)
		return errorPayload("внутренняя ошибка сериализации результата"), "error"
	}
	return payload, status
}

// errorPayload renders a structured error the model can read.
func errorPayload(msg string) string {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(b)
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
