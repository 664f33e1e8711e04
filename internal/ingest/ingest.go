// Package ingest keeps the similarity index and the ticket store in step as
// tickets are created, edited and deleted.
//
// When the embeddings backend is down a ticket is not indexed with a made-up
// vector. Its text is stored as pending instead and [ErrEmbeddingUnavailable]
// is returned; [Indexer.RetryPending] or the next full index build picks it up.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/ticketstore"
	"github.com/MrWong99/voxdesk/pkg/provider/embeddings"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

// ErrEmbeddingUnavailable reports that text could not be embedded. Index
// wraps it together with the provider error.
var ErrEmbeddingUnavailable = errors.New("ingest: embedding unavailable")

// ErrEmptyText is returned for tickets or queries without text.
var ErrEmptyText = errors.New("ingest: empty text")

const (
	DefaultK        = 5
	MaxK            = 20
	DefaultMinScore = 0.1

	defaultRetryBatch = 32
)

// Option is a functional option for [New].
type Option func(*Indexer)

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(x *Indexer) { x.metrics = m }
}

// WithRetryBatchSize sets how many pending tickets RetryPending embeds per
// provider call.
func WithRetryBatchSize(n int) Option {
	return func(x *Indexer) {
		if n > 0 {
			x.retryBatch = n
		}
	}
}

// Indexer writes tickets to the store and the index. It is safe for
// concurrent use.
type Indexer struct {
	index      *simindex.Index
	embedder   embeddings.Provider // nil means embeddings are disabled
	store      ticketstore.Store
	metrics    *observe.Metrics
	retryBatch int
}

// New returns an Indexer. emb may be nil, in which case every ticket is
// stored as pending and similarity queries fail with ErrEmbeddingUnavailable.
func New(ix *simindex.Index, emb embeddings.Provider, store ticketstore.Store, opts ...Option) *Indexer {
	x := &Indexer{
		index:      ix,
		embedder:   emb,
		store:      store,
		retryBatch: defaultRetryBatch,
	}
	for _, o := range opts {
		o(x)
	}
	if x.metrics == nil {
		x.metrics = observe.DefaultMetrics()
	}
	return x
}

func (x *Indexer) embed(ctx context.Context, text string) ([]float32, error) {
	if x.embedder == nil {
		return nil, fmt.Errorf("%w: no embeddings provider configured", ErrEmbeddingUnavailable)
	}
	start := time.Now()
	vec, err := x.embedder.Embed(ctx, text)
	x.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

// Index stores and indexes the description of a finalized ticket. A ticket
// that already exists is replaced.
//
// If the text cannot be embedded, or the provider returns a vector the index
// rejects (NaN, Inf or zero length), the ticket is stored as pending and the
// returned error wraps ErrEmbeddingUnavailable. A vector of the wrong length
// is rejected with a *simindex.DimensionError and nothing is written.
func (x *Indexer) Index(ctx context.Context, ticketID, text string, createdAt time.Time) error {
	ctx, span := observe.StartSpan(observe.WithTicket(ctx, ticketID), observe.SpanIndex)
	defer span.End()

	if ticketID == "" {
		return simindex.ErrEmptyID
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	vec, err := x.embed(ctx, text)
	if err == nil {
		d := simindex.Descriptor{TicketID: ticketID, Text: text, Embedding: vec, CreatedAt: createdAt}
		err = x.commit(ctx, d)
		if !errors.Is(err, simindex.ErrInvalidVector) {
			return err
		}
		err = fmt.Errorf("%w: provider returned an unusable vector: %w", ErrEmbeddingUnavailable, err)
	}

	observe.Fail(span, err)
	if serr := x.store.SavePending(ctx, ticketID, text, createdAt); serr != nil {
		return errors.Join(err, fmt.Errorf("ingest: save pending: %w", serr))
	}
	// A stale vector from an earlier version of the ticket must not keep
	// matching.
	x.index.Remove(ticketID)
	x.metrics.RecordIndexWrite(ctx, "upsert", "deferred")
	observe.Logger(ctx).Warn("ticket stored as pending, embedding unavailable", "err", err)
	return err
}

// commit persists d and indexes it. d is validated first so a vector the
// index would reject never reaches the store.
func (x *Indexer) commit(ctx context.Context, d simindex.Descriptor) error {
	if err := x.index.Check(d); err != nil {
		x.metrics.RecordIndexWrite(ctx, "upsert", "rejected")
		return err
	}
	if err := x.store.Save(ctx, d); err != nil {
		x.metrics.RecordIndexWrite(ctx, "upsert", "error")
		return fmt.Errorf("ingest: save: %w", err)
	}
	if err := x.index.Upsert(d); err != nil {
		x.metrics.RecordIndexWrite(ctx, "upsert", "rejected")
		return fmt.Errorf("ingest: upsert: %w", err)
	}
	x.metrics.RecordIndexWrite(ctx, "upsert", "ok")
	x.metrics.IndexEntries.Record(ctx, int64(x.index.Len()))
	return nil
}

// Remove deletes a ticket from the store and the index.
func (x *Indexer) Remove(ctx context.Context, ticketID string) error {
	if err := x.store.Delete(ctx, ticketID); err != nil {
		x.metrics.RecordIndexWrite(ctx, "remove", "error")
		return fmt.Errorf("ingest: delete: %w", err)
	}
	status := "missing"
	if x.index.Remove(ticketID) {
		status = "ok"
	}
	x.metrics.RecordIndexWrite(ctx, "remove", status)
	x.metrics.IndexEntries.Record(ctx, int64(x.index.Len()))
	return nil
}

// RetryPending embeds up to limit pending tickets (all when limit ≤ 0) and
// indexes them. It returns how many were indexed. When the provider fails the
// remaining tickets stay pending and the error wraps ErrEmbeddingUnavailable.
func (x *Indexer) RetryPending(ctx context.Context, limit int) (int, error) {
	if x.embedder == nil {
		return 0, fmt.Errorf("%w: no embeddings provider configured", ErrEmbeddingUnavailable)
	}
	pending, err := x.store.Pending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("ingest: list pending: %w", err)
	}

	done := 0
	for start := 0; start < len(pending); start += x.retryBatch {
		batch := pending[start:min(start+x.retryBatch, len(pending))]
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}

		t0 := time.Now()
		vecs, err := x.embedder.EmbedBatch(ctx, texts)
		x.metrics.EmbedDuration.Record(ctx, time.Since(t0).Seconds())
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(batch))
		}
		if err != nil {
			return done, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
		}

		for i, p := range batch {
			d := simindex.Descriptor{TicketID: p.TicketID, Text: p.Text, Embedding: vecs[i], CreatedAt: p.CreatedAt}
			tctx := observe.WithTicket(ctx, p.TicketID)
			err := x.commit(tctx, d)
			switch {
			case errors.Is(err, simindex.ErrInvalidVector):
				observe.Logger(tctx).Warn("ticket left pending, provider returned an unusable vector", "err", err)
				continue
			case err != nil:
				return done, err
			}
			done++
		}
	}
	if done > 0 {
		observe.Logger(ctx).Info("pending tickets indexed", "count", done)
	}
	return done, nil
}

// Similar embeds text and returns the most similar indexed tickets. k is
// clamped to [1, MaxK] with 0 meaning DefaultK. An empty index yields no
// results and no error.
func (x *Indexer) Similar(ctx context.Context, text string, k int, minScore float64) ([]simindex.Result, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanSimilar)
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	switch {
	case k <= 0:
		k = DefaultK
	case k > MaxK:
		k = MaxK
	}

	vec, err := x.embed(ctx, text)
	if err != nil {
		return nil, observe.Fail(span, err)
	}

	start := time.Now()
	res, err := x.index.Query(vec, k, minScore)
	x.metrics.IndexQueryDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("ingest: query: %w", err)
	}
	span.SetAttributes(observe.KeySimilarResults.Int(len(res)))
	return res, nil
}
