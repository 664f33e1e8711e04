// Package observe provides application-wide observability primitives for
// voxdesk: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxdesk metrics.
const meterName = "github.com/MrWong99/voxdesk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ClassifyDuration tracks end-to-end classification latency including the
	// AI signal wait.
	ClassifyDuration metric.Float64Histogram

	// AISignalDuration tracks AI signal adapter latency. Use with attribute:
	//   attribute.String("status", ...)
	AISignalDuration metric.Float64Histogram

	// EmbedDuration tracks embedding provider latency.
	EmbedDuration metric.Float64Histogram

	// IndexQueryDuration tracks similarity index query latency.
	IndexQueryDuration metric.Float64Histogram

	// IndexRebuildDuration tracks full index rebuild latency.
	IndexRebuildDuration metric.Float64Histogram

	// --- Counters ---

	// FieldSources counts where each resolved classification field came
	// from. Use with attributes:
	//   attribute.String("field", ...), attribute.String("source", ...)
	FieldSources metric.Int64Counter

	// AISignals counts AI signal outcomes. Use with attribute:
	//   attribute.String("status", ...)
	AISignals metric.Int64Counter

	// IndexWrites counts index mutations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	IndexWrites metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// IntakeMessages counts ticket events taken from the message bus. Use
	// with attribute:
	//   attribute.String("outcome", ...)
	IntakeMessages metric.Int64Counter

	// --- Gauges ---

	// IndexEntries reports the number of descriptors in the committed index
	// snapshot.
	IndexEntries metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Keyword
// classification lands in the first buckets, model calls in the last ones.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.ClassifyDuration, err = histogram("voxdesk.classify.duration",
		"Latency of complaint classification."); err != nil {
		return nil, err
	}
	if met.AISignalDuration, err = histogram("voxdesk.ai_signal.duration",
		"Latency of the AI signal adapter."); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = histogram("voxdesk.embed.duration",
		"Latency of embedding requests."); err != nil {
		return nil, err
	}
	if met.IndexQueryDuration, err = histogram("voxdesk.index.query.duration",
		"Latency of similarity index queries."); err != nil {
		return nil, err
	}
	if met.IndexRebuildDuration, err = histogram("voxdesk.index.rebuild.duration",
		"Latency of full similarity index rebuilds."); err != nil {
		return nil, err
	}

	// Counters.
	if met.FieldSources, err = m.Int64Counter("voxdesk.classify.field_sources",
		metric.WithDescription("Resolved classification fields by field and source."),
	); err != nil {
		return nil, err
	}
	if met.AISignals, err = m.Int64Counter("voxdesk.ai_signal.outcomes",
		metric.WithDescription("AI signal outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.IndexWrites, err = m.Int64Counter("voxdesk.index.writes",
		metric.WithDescription("Similarity index mutations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxdesk.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxdesk.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.IntakeMessages, err = m.Int64Counter("voxdesk.intake.messages",
		metric.WithDescription("Ticket events consumed from the message bus by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.IndexEntries, err = m.Int64Gauge("voxdesk.index.entries",
		metric.WithDescription("Number of descriptors in the committed index snapshot."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxdesk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFieldSource records one resolved classification field.
func (m *Metrics) RecordFieldSource(ctx context.Context, field, source string) {
	m.FieldSources.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("field", field),
			attribute.String("source", source),
		),
	)
}

// RecordAISignal records the outcome and latency of one AI signal request.
func (m *Metrics) RecordAISignal(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.AISignals.Add(ctx, 1, attrs)
	m.AISignalDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordIndexWrite records one index mutation.
func (m *Metrics) RecordIndexWrite(ctx context.Context, op, status string) {
	m.IndexWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordIntake records one consumed ticket event.
func (m *Metrics) RecordIntake(ctx context.Context, outcome string) {
	m.IntakeMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
