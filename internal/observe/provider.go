package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig describes the running voxdesk process to the OTel SDK.
type ProviderConfig struct {
	// ServiceName defaults to "voxdesk".
	ServiceName    string
	ServiceVersion string

	// LexiconVersion is the version of the keyword table the classifier
	// runs with. Reported as voxdesk.lexicon.version when set.
	LexiconVersion string

	// IndexDimensions is the embedding length of the similarity index.
	// Reported as voxdesk.index.dimensions when positive.
	IndexDimensions int

	// TraceExporter receives finished spans. When nil, spans are recorded
	// but never exported.
	TraceExporter sdktrace.SpanExporter
}

// Resource builds the telemetry resource for cfg. Metrics and spans of two
// processes running different lexicons or index sizes can be told apart by
// it.
func (cfg ProviderConfig) Resource() (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "voxdesk"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.LexiconVersion != "" {
		attrs = append(attrs, KeyLexiconVersion.String(cfg.LexiconVersion))
	}
	if cfg.IndexDimensions > 0 {
		attrs = append(attrs, KeyIndexDims.Int(cfg.IndexDimensions))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// InitProvider registers global meter and tracer providers built from cfg.
// Metrics go through a Prometheus exporter so /metrics can serve them.
//
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.Resource()
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
