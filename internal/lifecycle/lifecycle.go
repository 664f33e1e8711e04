// Package lifecycle builds the similarity index from the ticket corpus and
// tracks build state.
//
// A [Manager] owns the rebuild path of one [simindex.Index]: it loads the
// corpus from a [CorpusSource], embeds rows that were stored without a
// vector, and swaps the result into the index. Only one build runs at a time;
// a second request fails with [ErrAlreadyBuilding] instead of queueing.
//
// [Manager.Status] never blocks. While a build runs it reports the building
// state together with the entry count and build time of the last committed
// snapshot.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/pkg/provider/embeddings"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

// ErrAlreadyBuilding is returned when a build is requested while another one
// is still running.
var ErrAlreadyBuilding = simindex.ErrAlreadyBuilding

const (
	// DefaultEmbedBatchSize matches the batch size the corpus importer has
	// always used against embedding backends.
	DefaultEmbedBatchSize = 100

	// DefaultEmbedConcurrency bounds parallel embedding batches.
	DefaultEmbedConcurrency = 4
)

// State is the build state of the index.
type State int

const (
	StateUninitialized State = iota
	StateBuilding
	StateReady
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*s = StateUninitialized
	case "building":
		*s = StateBuilding
	case "ready":
		*s = StateReady
	default:
		return fmt.Errorf("lifecycle: unknown state %q", b)
	}
	return nil
}

// Status is a point-in-time view of the index lifecycle.
type Status struct {
	State State `json:"state"`
	// EntryCount is the number of entries in the committed snapshot.
	EntryCount  int       `json:"entry_count"`
	LastBuiltAt time.Time `json:"last_built_at,omitzero"`
	// LastDuration is the wall time of the last successful build.
	LastDuration time.Duration `json:"last_duration_ns,omitempty"`
	// Skipped counts corpus rows the last build left out because they could
	// not be embedded.
	Skipped   int    `json:"skipped,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// CorpusSource supplies the full ticket corpus. Rows without an embedding are
// embedded by the Manager before they are indexed.
type CorpusSource interface {
	LoadCorpus(ctx context.Context) ([]simindex.Descriptor, error)
}

// Sink persists descriptors the Manager embedded during a build so the next
// build does not embed them again.
type Sink interface {
	Save(ctx context.Context, d simindex.Descriptor) error
}

// Option is a functional option for [New].
type Option func(*Manager)

// WithEmbedder sets the provider used for corpus rows without an embedding.
// Without one such rows are skipped.
func WithEmbedder(p embeddings.Provider) Option {
	return func(m *Manager) { m.embedder = p }
}

// WithSink sets where freshly embedded rows are written back.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithEmbedBatchSize sets how many texts go into one EmbedBatch call.
func WithEmbedBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithEmbedConcurrency sets how many embedding batches run in parallel.
func WithEmbedConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager coordinates index builds. All methods are safe for concurrent use.
type Manager struct {
	index       *simindex.Index
	source      CorpusSource
	embedder    embeddings.Provider
	sink        Sink
	batchSize   int
	concurrency int
	metrics     *observe.Metrics

	building atomic.Bool
	last     atomic.Pointer[Status] // last finished build; nil before the first

	mu   sync.Mutex
	cron *cron.Cron
	wg   sync.WaitGroup // asynchronous builds
}

// New returns a Manager that rebuilds ix from src.
func New(ix *simindex.Index, src CorpusSource, opts ...Option) *Manager {
	m := &Manager{
		index:       ix,
		source:      src,
		batchSize:   DefaultEmbedBatchSize,
		concurrency: DefaultEmbedConcurrency,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Index returns the managed index.
func (m *Manager) Index() *simindex.Index { return m.index }

// Status reports the current state without blocking.
func (m *Manager) Status() Status {
	var st Status
	if last := m.last.Load(); last != nil {
		st = *last
	}
	switch {
	case m.building.Load():
		st.State = StateBuilding
	case st.LastBuiltAt.IsZero():
		st.State = StateUninitialized
	default:
		st.State = StateReady
	}
	st.EntryCount = m.index.Len()
	return st
}

// BuildFromCorpus loads, embeds and indexes the whole corpus, replacing the
// index content. It returns the resulting status. A failed build leaves the
// index unchanged.
func (m *Manager) BuildFromCorpus(ctx context.Context) (Status, error) {
	if !m.building.CompareAndSwap(false, true) {
		return m.Status(), ErrAlreadyBuilding
	}
	err := m.build(ctx)
	m.building.Store(false)
	return m.Status(), err
}

// StartBuild runs BuildFromCorpus in the background. It returns
// ErrAlreadyBuilding right away when a build is running. The build is
// detached from ctx cancellation but keeps its values.
func (m *Manager) StartBuild(ctx context.Context) error {
	if !m.building.CompareAndSwap(false, true) {
		return ErrAlreadyBuilding
	}
	bctx := context.WithoutCancel(ctx)
	m.wg.Go(func() {
		defer m.building.Store(false)
		if err := m.build(bctx); err != nil {
			slog.Error("index build failed", "err", err)
		}
	})
	return nil
}

func (m *Manager) build(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, observe.SpanBuild)
	defer span.End()

	start := time.Now()
	prev := m.last.Load()
	fail := func(err error) error {
		next := Status{LastError: err.Error()}
		if prev != nil {
			next = *prev
			next.LastError = err.Error()
		}
		m.last.Store(&next)
		return observe.Fail(span, err)
	}

	corpus, err := m.source.LoadCorpus(ctx)
	if err != nil {
		return fail(fmt.Errorf("lifecycle: load corpus: %w", err))
	}
	corpus, skipped, err := m.embedMissing(ctx, corpus)
	if err != nil {
		return fail(err)
	}
	if err := m.index.Rebuild(corpus); err != nil {
		if errors.Is(err, simindex.ErrAlreadyBuilding) {
			return err
		}
		return fail(fmt.Errorf("lifecycle: rebuild: %w", err))
	}

	elapsed := time.Since(start)
	m.last.Store(&Status{
		LastBuiltAt:  time.Now(),
		LastDuration: elapsed,
		Skipped:      skipped,
	})
	m.metrics.IndexRebuildDuration.Record(ctx, elapsed.Seconds())
	m.metrics.IndexEntries.Record(ctx, int64(m.index.Len()))
	span.SetAttributes(
		observe.KeyIndexEntries.Int(m.index.Len()),
		observe.KeyIndexSkipped.Int(skipped),
	)
	slog.Info("index built",
		"entries", m.index.Len(),
		"corpus", len(corpus)+skipped,
		"skipped", skipped,
		"duration", elapsed,
	)
	return nil
}

// embedMissing fills in embeddings for rows stored without one, or with a
// vector the index rejects, in batches with bounded parallelism. Rows whose
// batch fails or whose new vector is still unusable are dropped and counted;
// cancellation of ctx aborts the build.
func (m *Manager) embedMissing(ctx context.Context, corpus []simindex.Descriptor) ([]simindex.Descriptor, int, error) {
	var missing []int
	for i, d := range corpus {
		if len(d.Embedding) > 0 && errors.Is(m.index.Check(d), simindex.ErrInvalidVector) {
			slog.Warn("stored embedding is unusable, embedding again", "ticket_id", d.TicketID)
			corpus[i].Embedding = nil
		}
		if len(corpus[i].Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return corpus, 0, nil
	}
	if m.embedder == nil {
		slog.Warn("corpus rows without embedding skipped, no embeddings provider configured", "rows", len(missing))
		return dropMissing(corpus), len(missing), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for start := 0; start < len(missing); start += m.batchSize {
		batch := missing[start:min(start+m.batchSize, len(missing))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = corpus[idx].Text
			}
			t0 := time.Now()
			vecs, err := m.embedder.EmbedBatch(gctx, texts)
			m.metrics.EmbedDuration.Record(gctx, time.Since(t0).Seconds())
			if err != nil || len(vecs) != len(batch) {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("embedding batch failed, rows skipped", "rows", len(batch), "err", err)
				return nil
			}
			for i, idx := range batch {
				corpus[idx].Embedding = vecs[i]
				if err := m.index.Check(corpus[idx]); errors.Is(err, simindex.ErrInvalidVector) {
					slog.Warn("provider returned an unusable vector, row skipped", "ticket_id", corpus[idx].TicketID, "err", err)
					corpus[idx].Embedding = nil
					continue
				}
				if m.sink == nil {
					continue
				}
				if err := m.sink.Save(gctx, corpus[idx]); err != nil {
					slog.Warn("failed to persist embedded ticket", "ticket_id", corpus[idx].TicketID, "err", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("lifecycle: embed corpus: %w", err)
	}

	out := dropMissing(corpus)
	return out, len(corpus) - len(out), nil
}

func dropMissing(corpus []simindex.Descriptor) []simindex.Descriptor {
	out := make([]simindex.Descriptor, 0, len(corpus))
	for _, d := range corpus {
		if len(d.Embedding) > 0 {
			out = append(out, d)
		}
	}
	return out
}

// Schedule rebuilds the index on a standard five-field cron expression.
// Ticks that find a build running are skipped. Calling Schedule again
// replaces the previous schedule.
func (m *Manager) Schedule(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, m.scheduledBuild); err != nil {
		return fmt.Errorf("lifecycle: schedule %q: %w", spec, err)
	}

	m.mu.Lock()
	old := m.cron
	m.cron = c
	m.mu.Unlock()
	if old != nil {
		<-old.Stop().Done()
	}
	c.Start()
	slog.Info("index rebuild scheduled", "spec", spec)
	return nil
}

// Unschedule stops scheduled rebuilds. A running build is not interrupted.
func (m *Manager) Unschedule() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func (m *Manager) scheduledBuild() {
	_, err := m.BuildFromCorpus(context.Background())
	switch {
	case errors.Is(err, ErrAlreadyBuilding):
		slog.Info("scheduled index build skipped, build already running")
	case err != nil:
		slog.Error("scheduled index build failed", "err", err)
	}
}

// Close stops the schedule and waits for running builds to finish or ctx to
// expire.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
