// Package intake consumes finalized tickets from NATS and feeds them to the
// similarity index.
//
// Producers publish an [Event] as JSON on the intake subject once a support
// ticket is final. Each voxdesk instance subscribes without a queue group,
// since every instance keeps its own in-memory index and must see every
// ticket. Trace context travels in the message headers.
//
// A ticket whose text cannot be embedded is not an intake failure: the
// indexer stores it as pending and a later retry picks it up. Malformed or
// invalid events go straight to the dead-letter subject. Other failures are
// re-published with an attempt counter and dead-lettered after
// [MaxAttempts].
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/voxdesk/internal/ingest"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

const (
	// DefaultSubject is the subject finalized tickets are published on.
	DefaultSubject = "voxdesk.tickets.finalized"

	// MaxAttempts bounds how often a failing event is handled before it is
	// dead-lettered.
	MaxAttempts = 3

	// HeaderAttempt carries the number of failed attempts so far.
	HeaderAttempt = "X-Retry-Count"
)

// Event is one finalized ticket. Deleted events remove the ticket from the
// index and the store.
type Event struct {
	TicketID  string    `json:"ticket_id"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// DeadLetter is published on the dead-letter subject.
type DeadLetter struct {
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
}

// Tickets is the indexing surface the consumer drives.
type Tickets interface {
	Index(ctx context.Context, ticketID, text string, createdAt time.Time) error
	Remove(ctx context.Context, ticketID string) error
}

// Option configures a [Consumer].
type Option func(*Consumer)

// WithSubject sets the intake subject. The dead-letter subject is the
// intake subject with a ".dlq" suffix. Empty values are ignored.
func WithSubject(s string) Option {
	return func(c *Consumer) {
		if s != "" {
			c.subject = s
		}
	}
}

// WithMetrics records intake outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// Consumer subscribes to the intake subject and indexes every event.
type Consumer struct {
	nc      *nats.Conn
	tickets Tickets
	subject string
	metrics *observe.Metrics

	mu  sync.Mutex
	sub *nats.Subscription
}

// New returns a Consumer that reads from nc. Call [Consumer.Start] to
// subscribe.
func New(nc *nats.Conn, tickets Tickets, opts ...Option) *Consumer {
	c := &Consumer{nc: nc, tickets: tickets, subject: DefaultSubject}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Subject returns the intake subject.
func (c *Consumer) Subject() string { return c.subject }

// DeadLetterSubject returns the subject failed events are published on.
func (c *Consumer) DeadLetterSubject() string { return c.subject + ".dlq" }

// Start subscribes to the intake subject. Calling Start twice is an error.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return errors.New("intake: already started")
	}
	sub, err := c.nc.Subscribe(c.subject, c.handle)
	if err != nil {
		return fmt.Errorf("intake: subscribe %q: %w", c.subject, err)
	}
	c.sub = sub
	return nil
}

// Stop drains the subscription so in-flight events finish. It is safe to
// call more than once.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("intake: drain: %w", err)
	}
	return nil
}

func (c *Consumer) handle(msg *nats.Msg) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	ctx, span := observe.StartSpan(ctx, observe.SpanIntake)
	defer span.End()
	log := observe.Logger(ctx)

	attempts := attemptOf(msg)

	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Warn("intake: malformed event", "subject", msg.Subject, "err", err)
		c.deadLetter(ctx, msg, err, attempts+1)
		return
	}
	ctx = observe.WithTicket(ctx, ev.TicketID)
	span.SetAttributes(observe.KeyTicketID.String(ev.TicketID))
	log = observe.Logger(ctx)

	err := c.apply(ctx, ev)
	switch {
	case err == nil:
		c.metrics.RecordIntake(ctx, outcomeFor(ev))
		log.Debug("intake: ticket handled", "deleted", ev.Deleted)
	case errors.Is(err, ingest.ErrEmbeddingUnavailable):
		c.metrics.RecordIntake(ctx, "pending")
		log.Info("intake: ticket stored as pending")
	case permanent(err):
		observe.Fail(span, err)
		log.Warn("intake: invalid ticket event", "err", err)
		c.deadLetter(ctx, msg, err, attempts+1)
	default:
		observe.Fail(span, err)
		attempts++
		log.Error("intake: ticket handling failed", "attempt", attempts, "err", err)
		if attempts >= MaxAttempts {
			c.deadLetter(ctx, msg, err, attempts)
			return
		}
		c.retry(ctx, msg, attempts)
	}
}

func (c *Consumer) apply(ctx context.Context, ev Event) error {
	if ev.Deleted {
		if ev.TicketID == "" {
			return simindex.ErrEmptyID
		}
		return c.tickets.Remove(ctx, ev.TicketID)
	}
	return c.tickets.Index(ctx, ev.TicketID, ev.Text, ev.CreatedAt)
}

func (c *Consumer) retry(ctx context.Context, msg *nats.Msg, attempts int) {
	out := nats.NewMsg(c.subject)
	out.Data = msg.Data
	out.Header.Set(HeaderAttempt, strconv.Itoa(attempts))
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(out))
	if err := c.nc.PublishMsg(out); err != nil {
		observe.Logger(ctx).Error("intake: retry publish failed", "err", err)
		return
	}
	c.metrics.RecordIntake(ctx, "retried")
}

func (c *Consumer) deadLetter(ctx context.Context, msg *nats.Msg, cause error, attempts int) {
	c.metrics.RecordIntake(ctx, "dead_letter")
	data := msg.Data
	if !json.Valid(data) {
		data, _ = json.Marshal(string(msg.Data))
	}
	payload, err := json.Marshal(DeadLetter{Data: data, Error: cause.Error(), Attempts: attempts})
	if err != nil {
		observe.Logger(ctx).Error("intake: encode dead letter", "err", err)
		return
	}
	out := nats.NewMsg(c.DeadLetterSubject())
	out.Data = payload
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(out))
	if err := c.nc.PublishMsg(out); err != nil {
		observe.Logger(ctx).Error("intake: dead letter publish failed", "err", err)
	}
}

// Publish sends ev on subject with the trace context of ctx.
func Publish(ctx context.Context, nc *nats.Conn, subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("intake: encode event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("intake: publish: %w", err)
	}
	return nil
}

func permanent(err error) bool {
	var dimErr *simindex.DimensionError
	return errors.Is(err, simindex.ErrEmptyID) ||
		errors.Is(err, simindex.ErrInvalidVector) ||
		errors.Is(err, ingest.ErrEmptyText) ||
		errors.As(err, &dimErr)
}

func outcomeFor(ev Event) string {
	if ev.Deleted {
		return "removed"
	}
	return "indexed"
}

func attemptOf(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(HeaderAttempt))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// headerCarrier adapts NATS message headers to an OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
