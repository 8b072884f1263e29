package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics builds a Metrics instance backed by a manual reader so tests
// can collect recorded data points.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data recorded so far.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

// findMetric looks up a metric by name in collected data.
func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestNewMetrics_AllInstruments(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	if m.LLMDuration == nil || m.ToolExecutionDuration == nil || m.ConversationRounds == nil {
		t.Error("expected all histograms to be initialised")
	}
	if m.ProviderRequests == nil || m.ToolCalls == nil || m.ProviderErrors == nil {
		t.Error("expected all counters to be initialised")
	}
	if m.ActiveSessions == nil || m.HTTPRequestDuration == nil {
		t.Error("expected gauge and HTTP histogram to be initialised")
	}
}

func TestRecordToolCall(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "search_sales", "ok")
	m.RecordToolCall(ctx, "search_sales", "ok")
	m.RecordToolCall(ctx, "get_price_dynamics", "error")

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "sweetmill.tool.calls")
	if !ok {
		t.Fatal("sweetmill.tool.calls not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", metric.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("expected 3 tool calls recorded, got %d", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("expected 2 attribute sets (tool/status), got %d", len(sum.DataPoints))
	}
}

func TestRecordProviderRequestAndError(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "anthropic", "ok")
	m.RecordProviderError(ctx, "anthropic")

	rm := collect(t, reader)
	if _, ok := findMetric(rm, "sweetmill.provider.requests"); !ok {
		t.Error("sweetmill.provider.requests not found")
	}
	errMetric, ok := findMetric(rm, "sweetmill.provider.errors")
	if !ok {
		t.Fatal("sweetmill.provider.errors not found")
	}
	sum := errMetric.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("expected one provider error, got %+v", sum.DataPoints)
	}
}

func TestConversationRounds_Histogram(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	m.ConversationRounds.Record(context.Background(), 3)

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "sweetmill.conversation.rounds")
	if !ok {
		t.Fatal("sweetmill.conversation.rounds not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", metric.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one recorded round count, got %+v", hist.DataPoints)
	}
}
