package intake_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxdesk/internal/ingest"
	"github.com/MrWong99/voxdesk/internal/intake"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	t.Cleanup(ns.Shutdown)
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

type call struct {
	op, id, text string
}

// fakeTickets records calls and returns indexErr for the first failN Index
// calls.
type fakeTickets struct {
	mu       sync.Mutex
	calls    []call
	indexErr error
	failN    int
	seen     chan call
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{seen: make(chan call, 16)}
}

func (f *fakeTickets) Index(_ context.Context, id, text string, _ time.Time) error {
	f.mu.Lock()
	c := call{"index", id, text}
	f.calls = append(f.calls, c)
	var err error
	if f.indexErr != nil && (f.failN < 0 || len(f.calls) <= f.failN) {
		err = f.indexErr
	}
	f.mu.Unlock()
	f.seen <- c
	return err
}

func (f *fakeTickets) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	c := call{"remove", id, ""}
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	f.seen <- c
	return nil
}

func (f *fakeTickets) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func startConsumer(t *testing.T, nc *nats.Conn, tickets intake.Tickets) *intake.Consumer {
	t.Helper()
	subject := fmt.Sprintf("test.%s.tickets", t.Name())
	c := intake.New(nc, tickets, intake.WithSubject(subject), intake.WithMetrics(testMetrics(t)))
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return c
}

func deadLetters(t *testing.T, nc *nats.Conn, c *intake.Consumer) <-chan intake.DeadLetter {
	t.Helper()
	ch := make(chan intake.DeadLetter, 4)
	sub, err := nc.Subscribe(c.DeadLetterSubject(), func(m *nats.Msg) {
		var dl intake.DeadLetter
		if err := json.Unmarshal(m.Data, &dl); err == nil {
			ch <- dl
		}
	})
	if err != nil {
		t.Fatalf("Subscribe dlq: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return ch
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		var zero T
		return zero
	}
}

func TestConsumer_IndexesAndRemoves(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	tickets := newFakeTickets()
	c := startConsumer(t, nc, tickets)

	if err := intake.Publish(t.Context(), nc, c.Subject(), intake.Event{TicketID: "42", Text: "ইন্টারনেট নেই"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := wait(t, tickets.seen); got != (call{"index", "42", "ইন্টারনেট নেই"}) {
		t.Errorf("call = %+v", got)
	}

	if err := intake.Publish(t.Context(), nc, c.Subject(), intake.Event{TicketID: "42", Deleted: true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := wait(t, tickets.seen); got != (call{"remove", "42", ""}) {
		t.Errorf("call = %+v", got)
	}
}

func TestConsumer_MalformedGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	tickets := newFakeTickets()
	c := startConsumer(t, nc, tickets)
	dlq := deadLetters(t, nc, c)

	if err := nc.Publish(c.Subject(), []byte("{not json")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	dl := wait(t, dlq)
	if dl.Attempts != 1 || dl.Error == "" {
		t.Errorf("dead letter = %+v", dl)
	}
	if n := tickets.count(); n != 0 {
		t.Errorf("tickets calls = %d, want 0", n)
	}
}

func TestConsumer_InvalidEventIsNotRetried(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	tickets := newFakeTickets()
	tickets.indexErr = &simindex.DimensionError{TicketID: "1", Want: 3, Got: 2}
	tickets.failN = -1
	c := startConsumer(t, nc, tickets)
	dlq := deadLetters(t, nc, c)

	if err := intake.Publish(t.Context(), nc, c.Subject(), intake.Event{TicketID: "1", Text: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	dl := wait(t, dlq)
	if dl.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", dl.Attempts)
	}
	var ev intake.Event
	if err := json.Unmarshal(dl.Data, &ev); err != nil || ev.TicketID != "1" {
		t.Errorf("dead letter data = %s (err %v)", dl.Data, err)
	}
	if n := tickets.count(); n != 1 {
		t.Errorf("Index calls = %d, want 1", n)
	}
}

func TestConsumer_PendingIsNotAFailure(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	tickets := newFakeTickets()
	tickets.indexErr = fmt.Errorf("%w: provider down", ingest.ErrEmbeddingUnavailable)
	tickets.failN = -1
	c := startConsumer(t, nc, tickets)
	dlq := deadLetters(t, nc, c)

	if err := intake.Publish(t.Context(), nc, c.Subject(), intake.Event{TicketID: "5", Text: "বিল"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	wait(t, tickets.seen)

	select {
	case dl := <-dlq:
		t.Fatalf("unexpected dead letter %+v", dl)
	case <-tickets.seen:
		t.Fatal("pending ticket was retried")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConsumer_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	tickets := newFakeTickets()
	tickets.indexErr = errors.New("store offline")
	tickets.failN = 2
	c := startConsumer(t, nc, tickets)

	if err := intake.Publish(t.Context(), nc, c.Subject(), intake.Event{TicketID: "9", Text: "নেটওয়ার্ক"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for range 3 {
		wait(t, tickets.seen)
	}
	if n := tickets.count(); n != 3 {
		t.Errorf("Index calls = %d, want 3", n)
	}
}

func TestConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	tickets := newFakeTickets()
	tickets.indexErr = errors.New("store offline")
	tickets.failN = -1
	c := startConsumer(t, nc, tickets)
	dlq := deadLetters(t, nc, c)

	if err := intake.Publish(t.Context(), nc, c.Subject(), intake.Event{TicketID: "9", Text: "নেটওয়ার্ক"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	dl := wait(t, dlq)
	if dl.Attempts != intake.MaxAttempts {
		t.Errorf("attempts = %d, want %d", dl.Attempts, intake.MaxAttempts)
	}
	if n := tickets.count(); n != intake.MaxAttempts {
		t.Errorf("Index calls = %d, want %d", n, intake.MaxAttempts)
	}
}

func TestConsumer_StartStop(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	c := intake.New(nc, newFakeTickets(), intake.WithMetrics(testMetrics(t)))
	if c.Subject() != intake.DefaultSubject {
		t.Errorf("Subject = %q, want default", c.Subject())
	}
	if c.DeadLetterSubject() != intake.DefaultSubject+".dlq" {
		t.Errorf("DeadLetterSubject = %q", c.DeadLetterSubject())
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(); err == nil {
		t.Error("second Start should fail")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
