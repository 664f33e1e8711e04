package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer as the global provider for the
// duration of the test. Tests using it must not run in parallel.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default slog logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func attrOf(s tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartSpan_TagsTicket(t *testing.T) {
	exp := useTestTracer(t)

	ctx := WithTicket(context.Background(), "T-1001")
	_, span := StartSpan(ctx, SpanIndex)
	span.End()
	_, plain := StartSpan(context.Background(), SpanSimilar)
	plain.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Name != SpanIndex {
		t.Errorf("span name = %q, want %q", spans[0].Name, SpanIndex)
	}
	if v, ok := attrOf(spans[0], KeyTicketID); !ok || v.AsString() != "T-1001" {
		t.Errorf("%s = %v (present %v), want T-1001", KeyTicketID, v.AsString(), ok)
	}
	if _, ok := attrOf(spans[1], KeyTicketID); ok {
		t.Errorf("%s set on a span without a ticket", KeyTicketID)
	}
}

func TestStartSpan_ChildSharesCorrelationID(t *testing.T) {
	useTestTracer(t)

	ctx, parent := StartSpan(context.Background(), SpanIntake)
	defer parent.End()
	child, span := StartSpan(ctx, SpanIndex)
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", cid)
	}
	if got := CorrelationID(child); got != cid {
		t.Errorf("child correlation ID = %q, want %q", got, cid)
	}
}

func TestFail_MarksSpan(t *testing.T) {
	exp := useTestTracer(t)

	want := errors.New("embeddings backend down")
	_, span := StartSpan(context.Background(), SpanBuild)
	if got := Fail(span, want); got != want {
		t.Errorf("Fail returned %v, want the error it was given", got)
	}
	span.End()

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error || s.Status.Description != want.Error() {
		t.Errorf("status = %v %q, want Error %q", s.Status.Code, s.Status.Description, want)
	}
	if len(s.Events) != 1 || s.Events[0].Name != "exception" {
		t.Errorf("events = %v, want one exception event", s.Events)
	}
}

func TestClassified(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpan(context.Background(), SpanClassify)
	Classified(span, "billing", "high", "ok")
	span.End()

	s := exp.GetSpans()[0]
	for key, want := range map[attribute.Key]string{
		KeyCategory: "billing",
		KeyPriority: "high",
		KeyAIStatus: "ok",
	} {
		if v, ok := attrOf(s, key); !ok || v.AsString() != want {
			t.Errorf("%s = %q, want %q", key, v.AsString(), want)
		}
	}
}

func TestWithTicket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := WithTicket(ctx, ""); got != ctx {
		t.Error("WithTicket with an empty id returned a new context")
	}
	if got := TicketID(ctx); got != "" {
		t.Errorf("TicketID(background) = %q, want empty", got)
	}
	if got := TicketID(WithTicket(ctx, "42")); got != "42" {
		t.Errorf("TicketID = %q, want 42", got)
	}
}

func TestLogger_TraceAndTicket(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(WithTicket(context.Background(), "T-7"), SpanIntake)
	defer span.End()
	Logger(ctx).Info("ticket stored as pending")

	logged := buf.String()
	for _, want := range []string{"trace_id=" + CorrelationID(ctx), "span_id=", "ticket_id=T-7"} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %q, got: %s", want, logged)
		}
	}
}

func TestLogger_Bare(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("index built")

	logged := buf.String()
	if strings.Contains(logged, "trace_id") || strings.Contains(logged, "ticket_id") {
		t.Errorf("log output should carry no trace or ticket, got: %s", logged)
	}
}
