package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point whose attributes contain all of
// want, and whether such a point exists.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
outer:
	for _, dp := range sum.DataPoints {
		for _, kv := range want {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v.AsString() != kv.Value.AsString() {
				continue outer
			}
		}
		return dp.Value, true
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxdesk.classify.duration", m.ClassifyDuration},
		{"voxdesk.embed.duration", m.EmbedDuration},
		{"voxdesk.index.query.duration", m.IndexQueryDuration},
		{"voxdesk.index.rebuild.duration", m.IndexRebuildDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.003)
		tc.h.Record(ctx, 1.2)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordFieldSource(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFieldSource(ctx, "category", "keyword")
	m.RecordFieldSource(ctx, "category", "keyword")
	m.RecordFieldSource(ctx, "category", "ai")

	rm := collect(t, reader)
	got, ok := sumFor(t, rm, "voxdesk.classify.field_sources", Attr("field", "category"), Attr("source", "keyword"))
	if !ok || got != 2 {
		t.Errorf("keyword category count = %d (found=%v), want 2", got, ok)
	}
	got, ok = sumFor(t, rm, "voxdesk.classify.field_sources", Attr("source", "ai"))
	if !ok || got != 1 {
		t.Errorf("ai count = %d (found=%v), want 1", got, ok)
	}
}

func TestRecordAISignal(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAISignal(ctx, "ok", 300*time.Millisecond)
	m.RecordAISignal(ctx, "timeout", 5*time.Second)

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "voxdesk.ai_signal.outcomes", Attr("status", "timeout")); !ok || got != 1 {
		t.Errorf("timeout count = %d (found=%v), want 1", got, ok)
	}
	met := findMetric(rm, "voxdesk.ai_signal.duration")
	if met == nil {
		t.Fatal("ai_signal.duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 2 {
		t.Errorf("duration data points = %d, want 2 (one per status)", len(hist.DataPoints))
	}
}

func TestRecordIndexWrite(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordIndexWrite(ctx, "upsert", "ok")
	m.RecordIndexWrite(ctx, "upsert", "deferred")

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "voxdesk.index.writes", Attr("op", "upsert"), Attr("status", "deferred")); !ok || got != 1 {
		t.Errorf("deferred upserts = %d (found=%v), want 1", got, ok)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "llm", "ok")
	m.RecordProviderRequest(ctx, "gemini", "llm", "ok")
	m.RecordProviderError(ctx, "ollama", "embeddings")

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "voxdesk.provider.requests", Attr("status", "ok")); !ok || got != 2 {
		t.Errorf("ok requests = %d (found=%v), want 2", got, ok)
	}
	if got, ok := sumFor(t, rm, "voxdesk.provider.errors", Attr("kind", "embeddings")); !ok || got != 1 {
		t.Errorf("embedding errors = %d (found=%v), want 1", got, ok)
	}
}

func TestIndexEntriesGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.IndexEntries.Record(ctx, 10)
	m.IndexEntries.Record(ctx, 7)

	rm := collect(t, reader)
	met := findMetric(rm, "voxdesk.index.entries")
	if met == nil {
		t.Fatal("metric not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("metric is %T, want gauge", met.Data)
	}
	if len(g.DataPoints) != 1 || g.DataPoints[0].Value != 7 {
		t.Errorf("gauge = %+v, want last value 7", g.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

func TestRecordIntake(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordIntake(ctx, "indexed")
	m.RecordIntake(ctx, "indexed")
	m.RecordIntake(ctx, "dead_letter")

	rm := collect(t, reader)
	if got, ok := sumFor(t, rm, "voxdesk.intake.messages", Attr("outcome", "indexed")); !ok || got != 2 {
		t.Errorf("indexed = %d (found=%v), want 2", got, ok)
	}
	if got, ok := sumFor(t, rm, "voxdesk.intake.messages", Attr("outcome", "dead_letter")); !ok || got != 1 {
		t.Errorf("dead letters = %d (found=%v), want 1", got, ok)
	}
}
