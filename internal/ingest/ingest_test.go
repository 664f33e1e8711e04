package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/voxdesk/internal/lifecycle"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/ticketstore/memory"
	embmock "github.com/MrWong99/voxdesk/pkg/provider/embeddings/mock"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

// vectorFor maps text to a deterministic 3-d vector: the first component
// counts "internet", the second "bill", the third is a small constant. Text
// containing "void" maps to the zero vector, which the index rejects.
func vectorFor(text string) []float32 {
	if strings.Contains(text, "void") {
		return []float32{0, 0, 0}
	}
	return []float32{
		float32(strings.Count(text, "internet")),
		float32(strings.Count(text, "bill")),
		0.1,
	}
}

type fixture struct {
	ix    *simindex.Index
	emb   *embmock.Provider
	store *memory.Store
	x     *Indexer

	mu   sync.Mutex
	down bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ix, err := simindex.New(3)
	if err != nil {
		t.Fatal(err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{ix: ix, store: memory.New()}
	f.emb = &embmock.Provider{
		DimensionsValue: 3,
		EmbedFunc: func(text string) ([]float32, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.down {
				return nil, errors.New("connection refused")
			}
			return vectorFor(text), nil
		},
	}
	f.x = New(ix, f.emb, f.store, WithMetrics(met), WithRetryBatchSize(2))
	return f
}

func (f *fixture) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func TestIndex_StoresAndIndexes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.x.Index(ctx, "1", "internet down", time.Time{}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if !f.ix.Contains("1") {
		t.Error("ticket not indexed")
	}
	corpus, _ := f.store.LoadCorpus(ctx)
	if len(corpus) != 1 || len(corpus[0].Embedding) != 3 || corpus[0].CreatedAt.IsZero() {
		t.Errorf("stored = %+v", corpus)
	}

	res, err := f.x.Similar(ctx, "my internet", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].TicketID != "1" || res[0].Score < 0.9999 {
		t.Errorf("Similar = %+v", res)
	}
}

func TestIndex_EmbeddingUnavailableDefersUpsert(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_ = f.x.Index(ctx, "1", "internet slow", time.Time{})
	f.setDown(true)

	err := f.x.Index(ctx, "1", "bill wrong now", time.Time{})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
	if f.ix.Contains("1") {
		t.Error("stale vector still indexed after failed re-embed")
	}
	pending, _ := f.store.Pending(ctx, 0)
	if len(pending) != 1 || pending[0].Text != "bill wrong now" {
		t.Errorf("pending = %+v", pending)
	}

	f.setDown(false)
	n, err := f.x.RetryPending(ctx, 0)
	if err != nil || n != 1 {
		t.Fatalf("RetryPending = %d, %v", n, err)
	}
	if !f.ix.Contains("1") {
		t.Error("retried ticket not indexed")
	}
	if pending, _ := f.store.Pending(ctx, 0); len(pending) != 0 {
		t.Errorf("pending after retry = %+v", pending)
	}
}

// TestIndex_Spans swaps the global tracer provider and so does not run in
// parallel.
func TestIndex_Spans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	f := newFixture(t)
	ctx := context.Background()
	if err := f.x.Index(ctx, "T-1", "internet slow", time.Time{}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	f.setDown(true)
	_ = f.x.Index(ctx, "T-2", "bill wrong", time.Time{})

	var ok, deferred tracetest.SpanStub
	for _, s := range exp.GetSpans() {
		if s.Name != observe.SpanIndex {
			continue
		}
		for _, kv := range s.Attributes {
			if kv.Key != observe.KeyTicketID {
				continue
			}
			switch kv.Value.AsString() {
			case "T-1":
				ok = s
			case "T-2":
				deferred = s
			}
		}
	}
	if ok.Name == "" || deferred.Name == "" {
		t.Fatalf("index spans not tagged with their tickets: %+v", exp.GetSpans())
	}
	if ok.Status.Code == codes.Error {
		t.Errorf("indexed ticket span failed: %q", ok.Status.Description)
	}
	if deferred.Status.Code != codes.Error || !strings.Contains(deferred.Status.Description, "connection refused") {
		t.Errorf("deferred ticket span status = %v %q, want the embedding error", deferred.Status.Code, deferred.Status.Description)
	}
}

func TestRetryPending_Batches(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_ = f.store.SavePending(ctx, id, "internet "+id, time.Now())
	}
	n, err := f.x.RetryPending(ctx, 0)
	if err != nil || n != 3 {
		t.Fatalf("RetryPending = %d, %v", n, err)
	}
	if got := len(f.emb.EmbedBatchCalls); got != 2 {
		t.Errorf("EmbedBatch calls = %d, want 2", got)
	}
	if f.ix.Len() != 3 {
		t.Errorf("index Len = %d", f.ix.Len())
	}
}

func TestRetryPending_ProviderDown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_ = f.store.SavePending(ctx, "1", "internet", time.Now())
	f.setDown(true)
	n, err := f.x.RetryPending(ctx, 0)
	if !errors.Is(err, ErrEmbeddingUnavailable) || n != 0 {
		t.Errorf("RetryPending = %d, %v", n, err)
	}
	if pending, _ := f.store.Pending(ctx, 0); len(pending) != 1 {
		t.Error("ticket left pending state after failed retry")
	}
}

func TestIndex_UnusableVectorStaysPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.x.Index(ctx, "1", "internet down", time.Time{}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	err := f.x.Index(ctx, "2", "void reply", time.Time{})
	if !errors.Is(err, ErrEmbeddingUnavailable) || !errors.Is(err, simindex.ErrInvalidVector) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable wrapping ErrInvalidVector", err)
	}
	if f.ix.Contains("2") {
		t.Error("ticket with a zero vector was indexed")
	}
	corpus, err := f.store.LoadCorpus(ctx)
	if err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}
	for _, d := range corpus {
		if d.TicketID == "2" && len(d.Embedding) > 0 {
			t.Errorf("store kept the rejected vector %v", d.Embedding)
		}
	}
	if pending, _ := f.store.Pending(ctx, 0); len(pending) != 1 || pending[0].TicketID != "2" {
		t.Errorf("pending = %+v, want ticket 2", pending)
	}

	n, err := f.x.RetryPending(ctx, 0)
	if err != nil || n != 0 {
		t.Errorf("RetryPending = %d, %v; want 0, nil", n, err)
	}

	// Later rebuilds keep working and skip the ticket.
	m := lifecycle.New(f.ix, f.store, lifecycle.WithEmbedder(f.emb), lifecycle.WithSink(f.store))
	st, err := m.BuildFromCorpus(ctx)
	if err != nil {
		t.Fatalf("BuildFromCorpus: %v", err)
	}
	if st.EntryCount != 1 || st.Skipped != 1 {
		t.Errorf("status = %+v, want 1 entry and 1 skipped", st)
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.emb.EmbedFunc = nil
	f.emb.EmbedResult = []float32{1, 2}

	err := f.x.Index(context.Background(), "1", "internet", time.Time{})
	var dimErr *simindex.DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("err = %v, want DimensionError", err)
	}
	if f.store.Len() != 0 || f.ix.Len() != 0 {
		t.Error("rejected ticket was written")
	}
}

func TestIndex_InvalidInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.x.Index(context.Background(), "", "text", time.Time{}); !errors.Is(err, simindex.ErrEmptyID) {
		t.Errorf("empty id err = %v", err)
	}
	if err := f.x.Index(context.Background(), "1", "  ", time.Time{}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("empty text err = %v", err)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_ = f.x.Index(ctx, "1", "internet", time.Time{})
	if err := f.x.Remove(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if f.ix.Contains("1") || f.store.Len() != 0 {
		t.Error("ticket survived Remove")
	}
	if err := f.x.Remove(ctx, "unknown"); err != nil {
		t.Errorf("Remove unknown: %v", err)
	}
}

func TestSimilar(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.x.Similar(ctx, "internet", 0, 0)
	if err != nil || len(res) != 0 {
		t.Errorf("empty index Similar = %+v, %v", res, err)
	}

	for i, text := range []string{"internet", "bill", "internet internet bill"} {
		_ = f.x.Index(ctx, string(rune('a'+i)), text, time.Time{})
	}
	res, err = f.x.Similar(ctx, "internet", 100, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].TicketID != "a" || res[1].TicketID != "c" {
		t.Errorf("Similar = %+v, want a then c", res)
	}

	if _, err := f.x.Similar(ctx, "", 1, 0); !errors.Is(err, ErrEmptyText) {
		t.Errorf("empty query err = %v", err)
	}
	f.setDown(true)
	if _, err := f.x.Similar(ctx, "internet", 1, 0); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("provider down err = %v", err)
	}
}

func TestNoEmbedder(t *testing.T) {
	t.Parallel()
	ix, _ := simindex.New(3)
	store := memory.New()
	x := New(ix, nil, store)

	err := x.Index(context.Background(), "1", "internet", time.Time{})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("err = %v", err)
	}
	if pending, _ := store.Pending(context.Background(), 0); len(pending) != 1 {
		t.Error("ticket not stored as pending")
	}
	if _, err := x.RetryPending(context.Background(), 0); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("RetryPending err = %v", err)
	}
}
