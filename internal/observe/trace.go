package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the voxdesk tracer.
const tracerName = "github.com/MrWong99/voxdesk"

// Span names of the voxdesk pipeline stages.
const (
	SpanClassify = "triage.classify"
	SpanAnalyze  = "aisignal.analyze"
	SpanIndex    = "ingest.index"
	SpanSimilar  = "ingest.similar"
	SpanIntake   = "intake.handle"
	SpanBuild    = "lifecycle.build"
)

// Attribute keys set on voxdesk spans and on the telemetry resource.
const (
	KeyTicketID       = attribute.Key("voxdesk.ticket.id")
	KeyCategory       = attribute.Key("voxdesk.category")
	KeyPriority       = attribute.Key("voxdesk.priority")
	KeyAIStatus       = attribute.Key("voxdesk.ai_status")
	KeySimilarResults = attribute.Key("voxdesk.similar.results")
	KeyIndexEntries   = attribute.Key("voxdesk.index.entries")
	KeyIndexSkipped   = attribute.Key("voxdesk.index.skipped")
	KeyLexiconVersion = attribute.Key("voxdesk.lexicon.version")
	KeyIndexDims      = attribute.Key("voxdesk.index.dimensions")
)

type ticketKey struct{}

// WithTicket returns a context tagged with ticketID. Spans started from it
// carry [KeyTicketID] and [Logger] adds a ticket_id attribute.
func WithTicket(ctx context.Context, ticketID string) context.Context {
	if ticketID == "" {
		return ctx
	}
	return context.WithValue(ctx, ticketKey{}, ticketID)
}

// TicketID returns the ticket id set by [WithTicket], or "".
func TicketID(ctx context.Context) string {
	id, _ := ctx.Value(ticketKey{}).(string)
	return id
}

// Tracer returns the package-level [trace.Tracer] for voxdesk. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named after a pipeline stage. When ctx carries a
// ticket id the span is tagged with it. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := TicketID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(KeyTicketID.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// Fail records err on span, marks the span as failed and returns err.
func Fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Classified tags span with the labels a complaint was finally given.
func Classified(span trace.Span, category, priority, aiStatus string) {
	span.SetAttributes(
		KeyCategory.String(category),
		KeyPriority.String(priority),
		KeyAIStatus.String(aiStatus),
	)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID doubles as the X-Correlation-ID returned to API clients.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] with trace_id and span_id from
// the span in ctx, plus ticket_id when ctx was tagged by [WithTicket].
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := TicketID(ctx); id != "" {
		l = l.With(slog.String("ticket_id", id))
	}
	return l
}
