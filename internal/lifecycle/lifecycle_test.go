package lifecycle

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxdesk/internal/observe"
	embmock "github.com/MrWong99/voxdesk/pkg/provider/embeddings/mock"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

type fakeSource struct {
	mu     sync.Mutex
	corpus []simindex.Descriptor
	err    error
	block  chan struct{} // when non-nil, LoadCorpus waits for it
	calls  int
}

func (f *fakeSource) LoadCorpus(ctx context.Context) ([]simindex.Descriptor, error) {
	f.mu.Lock()
	f.calls++
	block, corpus, err := f.block, f.corpus, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]simindex.Descriptor, len(corpus))
	copy(out, corpus)
	return out, nil
}

type recordingSink struct {
	mu    sync.Mutex
	saved []string
}

func (s *recordingSink) Save(_ context.Context, d simindex.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, d.TicketID)
	return nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newIndex(t *testing.T) *simindex.Index {
	t.Helper()
	ix, err := simindex.New(2)
	if err != nil {
		t.Fatal(err)
	}
	return ix
}

func d(id string, vec ...float32) simindex.Descriptor {
	return simindex.Descriptor{TicketID: id, Text: "text " + id, Embedding: vec}
}

func TestStatus_Uninitialized(t *testing.T) {
	t.Parallel()

	m := New(newIndex(t), &fakeSource{}, WithMetrics(testMetrics(t)))
	st := m.Status()
	if st.State != StateUninitialized || st.EntryCount != 0 || !st.LastBuiltAt.IsZero() {
		t.Errorf("Status = %+v, want uninitialized and empty", st)
	}
}

func TestBuildFromCorpus(t *testing.T) {
	t.Parallel()

	src := &fakeSource{corpus: []simindex.Descriptor{d("1", 1, 0), d("2", 0, 1), d("3", 1, 1)}}
	m := New(newIndex(t), src, WithMetrics(testMetrics(t)))

	st, err := m.BuildFromCorpus(context.Background())
	if err != nil {
		t.Fatalf("BuildFromCorpus: %v", err)
	}
	if st.State != StateReady {
		t.Errorf("State = %v, want ready", st.State)
	}
	if st.EntryCount != 3 {
		t.Errorf("EntryCount = %d, want 3", st.EntryCount)
	}
	if st.LastBuiltAt.IsZero() || st.LastError != "" {
		t.Errorf("Status = %+v", st)
	}
	if got := m.Status(); got.State != StateReady || got.EntryCount != 3 {
		t.Errorf("Status() = %+v", got)
	}
}

func TestBuildFromCorpus_EmbedsMissingRows(t *testing.T) {
	t.Parallel()

	emb := &embmock.Provider{
		DimensionsValue: 2,
		EmbedFunc: func(text string) ([]float32, error) {
			if strings.Contains(text, "bad") {
				return nil, errors.New("model rejected input")
			}
			return []float32{1, 0.5}, nil
		},
	}
	sink := &recordingSink{}
	src := &fakeSource{corpus: []simindex.Descriptor{
		d("1", 1, 0),
		{TicketID: "2", Text: "needs vector"},
		{TicketID: "3", Text: "bad row"},
		{TicketID: "4", Text: "needs vector too"},
	}}
	m := New(newIndex(t), src,
		WithEmbedder(emb),
		WithSink(sink),
		WithEmbedBatchSize(1),
		WithEmbedConcurrency(2),
		WithMetrics(testMetrics(t)),
	)

	st, err := m.BuildFromCorpus(context.Background())
	if err != nil {
		t.Fatalf("BuildFromCorpus: %v", err)
	}
	if st.EntryCount != 3 || st.Skipped != 1 {
		t.Errorf("EntryCount = %d, Skipped = %d, want 3 and 1", st.EntryCount, st.Skipped)
	}
	if m.Index().Contains("3") {
		t.Error("row whose embedding failed was indexed")
	}
	sink.mu.Lock()
	saved := len(sink.saved)
	sink.mu.Unlock()
	if saved != 2 {
		t.Errorf("sink saved %d rows, want 2", saved)
	}
	if n := len(emb.EmbedBatchCalls); n != 3 {
		t.Errorf("EmbedBatch calls = %d, want 3", n)
	}
}

func TestBuildFromCorpus_UnusableVectors(t *testing.T) {
	t.Parallel()

	emb := &embmock.Provider{
		DimensionsValue: 2,
		EmbedFunc: func(text string) ([]float32, error) {
			if strings.Contains(text, "zero") {
				return []float32{0, 0}, nil
			}
			return []float32{0, 1}, nil
		},
	}
	sink := &recordingSink{}
	src := &fakeSource{corpus: []simindex.Descriptor{
		d("1", 1, 0),
		{TicketID: "2", Text: "stored zero", Embedding: []float32{0, 0}},
		{TicketID: "3", Text: "stored nan, fine now", Embedding: []float32{float32(math.NaN()), 1}},
		{TicketID: "4", Text: "zero on embed"},
	}}
	m := New(newIndex(t), src, WithEmbedder(emb), WithSink(sink), WithMetrics(testMetrics(t)))

	st, err := m.BuildFromCorpus(context.Background())
	if err != nil {
		t.Fatalf("BuildFromCorpus: %v", err)
	}
	if st.EntryCount != 2 || st.Skipped != 2 {
		t.Errorf("EntryCount = %d, Skipped = %d, want 2 and 2", st.EntryCount, st.Skipped)
	}
	if !m.Index().Contains("3") {
		t.Error("row with a stored NaN vector was not embedded again")
	}
	sink.mu.Lock()
	saved := slices.Clone(sink.saved)
	sink.mu.Unlock()
	if !slices.Equal(saved, []string{"3"}) {
		t.Errorf("sink saved %v, want only the re-embedded row 3", saved)
	}
}

func TestBuildFromCorpus_NoEmbedderSkipsRows(t *testing.T) {
	t.Parallel()

	src := &fakeSource{corpus: []simindex.Descriptor{d("1", 1, 0), {TicketID: "2", Text: "pending"}}}
	m := New(newIndex(t), src, WithMetrics(testMetrics(t)))

	st, err := m.BuildFromCorpus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.EntryCount != 1 || st.Skipped != 1 {
		t.Errorf("Status = %+v", st)
	}
}

func TestBuildFromCorpus_FailureKeepsCommittedState(t *testing.T) {
	t.Parallel()

	src := &fakeSource{corpus: []simindex.Descriptor{d("1", 1, 0)}}
	m := New(newIndex(t), src, WithMetrics(testMetrics(t)))

	// Failure before any build leaves the index uninitialized.
	src.err = errors.New("db down")
	st, err := m.BuildFromCorpus(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if st.State != StateUninitialized || !strings.Contains(st.LastError, "db down") {
		t.Errorf("Status = %+v", st)
	}

	src.err = nil
	if _, err := m.BuildFromCorpus(context.Background()); err != nil {
		t.Fatal(err)
	}
	built := m.Status().LastBuiltAt

	// A dimension mismatch fails the build; the committed snapshot stays.
	src.corpus = []simindex.Descriptor{d("9", 1, 0, 0)}
	st, err = m.BuildFromCorpus(context.Background())
	var dimErr *simindex.DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("err = %v, want DimensionError", err)
	}
	if st.State != StateReady || st.EntryCount != 1 || !st.LastBuiltAt.Equal(built) || st.LastError == "" {
		t.Errorf("Status = %+v", st)
	}
	if !m.Index().Contains("1") {
		t.Error("failed build changed the index")
	}
}

func TestBuild_AlreadyBuilding(t *testing.T) {
	t.Parallel()

	src := &fakeSource{corpus: []simindex.Descriptor{d("1", 1, 0)}}
	m := New(newIndex(t), src, WithMetrics(testMetrics(t)))
	if _, err := m.BuildFromCorpus(context.Background()); err != nil {
		t.Fatal(err)
	}

	block := make(chan struct{})
	src.mu.Lock()
	src.block = block
	src.corpus = []simindex.Descriptor{d("1", 1, 0), d("2", 0, 1)}
	src.mu.Unlock()

	if err := m.StartBuild(context.Background()); err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	if err := m.StartBuild(context.Background()); !errors.Is(err, ErrAlreadyBuilding) {
		t.Errorf("second StartBuild err = %v, want ErrAlreadyBuilding", err)
	}
	st, err := m.BuildFromCorpus(context.Background())
	if !errors.Is(err, ErrAlreadyBuilding) {
		t.Errorf("BuildFromCorpus err = %v, want ErrAlreadyBuilding", err)
	}
	// The committed state is still reported while the build runs.
	if st.State != StateBuilding || st.EntryCount != 1 {
		t.Errorf("Status during build = %+v", st)
	}

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := m.Status(); st.State != StateReady || st.EntryCount != 2 {
		t.Errorf("Status after build = %+v", st)
	}
}

func TestStartBuild_DetachedFromCallerCancel(t *testing.T) {
	t.Parallel()

	src := &fakeSource{corpus: []simindex.Descriptor{d("1", 1, 0)}}
	m := New(newIndex(t), src, WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.StartBuild(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	if err := m.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := m.Status(); st.State != StateReady {
		t.Errorf("Status = %+v, want ready", st)
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	m := New(newIndex(t), &fakeSource{}, WithMetrics(testMetrics(t)))
	if err := m.Schedule("not a cron spec"); err == nil {
		t.Error("expected error for invalid spec")
	}
	if err := m.Schedule("*/5 * * * *"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := m.Schedule("0 3 * * *"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	m.Unschedule()
	m.Unschedule()
	m.mu.Lock()
	c := m.cron
	m.mu.Unlock()
	if c != nil {
		t.Error("cron still set after Unschedule")
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestScheduledBuild_SkipsWhileBuilding(t *testing.T) {
	t.Parallel()

	src := &fakeSource{corpus: []simindex.Descriptor{d("1", 1, 0)}}
	m := New(newIndex(t), src, WithMetrics(testMetrics(t)))
	m.building.Store(true)
	m.scheduledBuild()
	m.building.Store(false)

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 0 {
		t.Errorf("LoadCorpus called %d times during a running build", calls)
	}

	m.scheduledBuild()
	if st := m.Status(); st.State != StateReady {
		t.Errorf("Status = %+v, want ready", st)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    State
		want string
	}{
		{StateUninitialized, "uninitialized"},
		{StateBuilding, "building"},
		{StateReady, "ready"},
		{State(9), "State(9)"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tc.s), got, tc.want)
		}
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateUninitialized, StateBuilding, StateReady} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", s, err)
		}
		var got State
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != s {
			t.Errorf("round trip of %v = %v", s, got)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("sleeping")); err == nil {
		t.Error("expected an error for an unknown state")
	}
}
