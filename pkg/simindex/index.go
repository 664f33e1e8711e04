// Package simindex is an in-memory nearest-neighbour index over ticket
// embeddings, ranked by cosine similarity.
//
// # Concurrency
//
// The index content is an immutable snapshot published through an
// atomic pointer. Queries load the current snapshot and never lock, so they
// never wait for writers and never observe a partial write.
//
// A snapshot is a base segment (a flat slice built by Rebuild or by
// compaction) plus a small copy-on-write delta of upserted entries and a
// tombstone set of removed base ids. Upsert and Remove copy only the delta
// or the tombstones, publish a new snapshot and return; once the two
// together exceed the compaction threshold they are folded into a fresh base.
// A single writer mutex serialises writers.
//
// Rebuild prepares the new base without the writer mutex. Writes that land
// while it runs are applied to the live snapshot as usual and also
// journalled; Rebuild then takes the mutex only to replay that journal onto
// the new base and swap it in. Queries see either the old or the new
// content, never a mix.
//
// A write is visible to every query that starts after the write returned.
// Concurrent writes to the same ticket are applied in the order they acquire
// the writer mutex.
package simindex

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultCompactThreshold = 256
	defaultChunkSize        = 4096
)

// Descriptor is the unit indexed for similarity.
type Descriptor struct {
	TicketID  string    `json:"ticket_id"`
	Text      string    `json:"text,omitempty"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is one similarity match. Rank starts at 1.
type Result struct {
	TicketID  string    `json:"ticket_id"`
	Score     float64   `json:"score"`
	Rank      int       `json:"rank"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Stats describes the current snapshot.
type Stats struct {
	Entries       int       `json:"entries"`
	BaseEntries   int       `json:"base_entries"`
	DeltaEntries  int       `json:"delta_entries"`
	Tombstones    int       `json:"tombstones"`
	Version       uint64    `json:"version"`
	Dimensions    int       `json:"dimensions"`
	LastRebuiltAt time.Time `json:"last_rebuilt_at,omitzero"`
	Rebuilding    bool      `json:"rebuilding"`
}

type entry struct {
	id        string
	key       ticketKey
	text      string
	createdAt time.Time
	vec       []float32 // unit length
}

type snapshot struct {
	base    []*entry
	baseIdx map[string]int

	// delta overrides base entries with the same id. dead holds base ids that
	// were removed and not re-upserted. Both are copy-on-write.
	delta map[string]*entry
	dead  map[string]struct{}

	size      int
	version   uint64
	rebuiltAt time.Time
}

func (s *snapshot) live(id string) bool {
	if _, ok := s.delta[id]; ok {
		return true
	}
	if _, ok := s.baseIdx[id]; ok {
		_, gone := s.dead[id]
		return !gone
	}
	return false
}

type opKind int

const (
	opUpsert opKind = iota
	opRemove
)

type op struct {
	kind opKind
	id   string
	e    *entry
}

// Option is a functional option for [New].
type Option func(*Index)

// WithCompactThreshold sets how many delta entries plus tombstones are
// tolerated before they are folded into the base. Default: 256.
func WithCompactThreshold(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.compactThreshold = n
		}
	}
}

// WithRebuildChunkSize sets how many descriptors a rebuild normalises per
// unit of work. Default: 4096.
func WithRebuildChunkSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.chunkSize = n
		}
	}
}

// Index is a cosine similarity index over vectors of one fixed
// dimensionality. The zero value is not usable; call [New].
type Index struct {
	dim              int
	compactThreshold int
	chunkSize        int

	state    atomic.Pointer[snapshot]
	building atomic.Bool

	mu      sync.Mutex // serialises writers
	journal []op       // non-nil while a rebuild runs; guarded by mu

	beforeSwap func() // test hook, runs after a rebuild prepared its base
}

// New returns an empty index for vectors of length dim.
func New(dim int, opts ...Option) (*Index, error) {
	if dim < 1 {
		return nil, fmt.Errorf("simindex: dimensions must be positive, got %d", dim)
	}
	ix := &Index{
		dim:              dim,
		compactThreshold: defaultCompactThreshold,
		chunkSize:        defaultChunkSize,
	}
	for _, o := range opts {
		o(ix)
	}
	ix.state.Store(&snapshot{
		baseIdx: map[string]int{},
		delta:   map[string]*entry{},
		dead:    map[string]struct{}{},
	})
	return ix, nil
}

// Dimensions returns the vector length the index accepts.
func (ix *Index) Dimensions() int { return ix.dim }

// Len returns the number of live entries.
func (ix *Index) Len() int { return ix.state.Load().size }

// Stats returns a description of the current snapshot.
func (ix *Index) Stats() Stats {
	s := ix.state.Load()
	return Stats{
		Entries:       s.size,
		BaseEntries:   len(s.base),
		DeltaEntries:  len(s.delta),
		Tombstones:    len(s.dead),
		Version:       s.version,
		Dimensions:    ix.dim,
		LastRebuiltAt: s.rebuiltAt,
		Rebuilding:    ix.building.Load(),
	}
}

// Contains reports whether id is in the index.
func (ix *Index) Contains(id string) bool { return ix.state.Load().live(id) }

func (ix *Index) prepare(d Descriptor) (*entry, error) {
	if d.TicketID == "" {
		return nil, ErrEmptyID
	}
	if len(d.Embedding) != ix.dim {
		return nil, &DimensionError{TicketID: d.TicketID, Want: ix.dim, Got: len(d.Embedding)}
	}
	vec, err := unit(d.Embedding)
	if err != nil {
		return nil, fmt.Errorf("ticket %q: %w", d.TicketID, err)
	}
	return &entry{
		id:        d.TicketID,
		key:       newTicketKey(d.TicketID),
		text:      d.Text,
		createdAt: d.CreatedAt,
		vec:       vec,
	}, nil
}

// Check reports the error Upsert would return for d without writing
// anything. Callers that persist a descriptor before indexing it use Check
// to keep rejected vectors out of their store.
func (ix *Index) Check(d Descriptor) error {
	_, err := ix.prepare(d)
	return err
}

// Upsert inserts d or replaces the entry with the same ticket id.
func (ix *Index) Upsert(d Descriptor) error {
	e, err := ix.prepare(d)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.publish(applyOps(ix.state.Load(), []op{{kind: opUpsert, id: e.id, e: e}}))
	if ix.journal != nil {
		ix.journal = append(ix.journal, op{kind: opUpsert, id: e.id, e: e})
	}
	return nil
}

// Remove deletes id and reports whether it was present.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.state.Load()
	if ix.journal != nil {
		// The rebuilt base may contain id even if the live snapshot does not.
		ix.journal = append(ix.journal, op{kind: opRemove, id: id})
	}
	if !cur.live(id) {
		return false
	}
	ix.publish(applyOps(cur, []op{{kind: opRemove, id: id}}))
	return true
}

// publish bumps the version, compacts when due and stores next. Must be
// called with ix.mu held.
func (ix *Index) publish(next *snapshot) {
	if len(next.delta)+len(next.dead) > ix.compactThreshold {
		next = compact(next)
	}
	next.version = ix.state.Load().version + 1
	ix.state.Store(next)
}

// applyOps returns a new snapshot with ops applied to s. s is not modified.
func applyOps(s *snapshot, ops []op) *snapshot {
	next := &snapshot{
		base:      s.base,
		baseIdx:   s.baseIdx,
		delta:     s.delta,
		dead:      s.dead,
		size:      s.size,
		rebuiltAt: s.rebuiltAt,
	}
	var deltaCopied, deadCopied bool
	cowDelta := func() {
		if !deltaCopied {
			next.delta = cloneMap(next.delta)
			deltaCopied = true
		}
	}
	cowDead := func() {
		if !deadCopied {
			next.dead = cloneMap(next.dead)
			deadCopied = true
		}
	}

	for _, o := range ops {
		wasLive := next.live(o.id)
		_, inBase := next.baseIdx[o.id]
		switch o.kind {
		case opUpsert:
			cowDelta()
			next.delta[o.id] = o.e
			if _, gone := next.dead[o.id]; gone {
				cowDead()
				delete(next.dead, o.id)
			}
			if !wasLive {
				next.size++
			}
		case opRemove:
			if !wasLive {
				continue
			}
			if _, ok := next.delta[o.id]; ok {
				cowDelta()
				delete(next.delta, o.id)
			}
			if inBase {
				cowDead()
				next.dead[o.id] = struct{}{}
			}
			next.size--
		}
	}
	return next
}

// compact folds the delta and tombstones of s into a new base.
func compact(s *snapshot) *snapshot {
	base := make([]*entry, 0, s.size)
	for _, e := range s.base {
		if _, gone := s.dead[e.id]; gone {
			continue
		}
		if _, replaced := s.delta[e.id]; replaced {
			continue
		}
		base = append(base, e)
	}
	for _, e := range s.delta {
		base = append(base, e)
	}
	return newBaseSnapshot(base, s.rebuiltAt)
}

func newBaseSnapshot(base []*entry, rebuiltAt time.Time) *snapshot {
	idx := make(map[string]int, len(base))
	for i, e := range base {
		idx[e.id] = i
	}
	return &snapshot{
		base:      base,
		baseIdx:   idx,
		delta:     map[string]*entry{},
		dead:      map[string]struct{}{},
		size:      len(base),
		rebuiltAt: rebuiltAt,
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Query returns up to k entries with a score of at least minScore, best
// first, ties broken by ascending ticket id. minScore is clamped to [0,1].
// An empty index yields an empty result and no error, whatever the
// arguments.
func (ix *Index) Query(vec []float32, k int, minScore float64) ([]Result, error) {
	s := ix.state.Load()
	if s.size == 0 {
		return []Result{}, nil
	}
	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(vec) != ix.dim {
		return nil, &DimensionError{Want: ix.dim, Got: len(vec)}
	}
	q, err := unit(vec)
	if err != nil {
		return nil, err
	}
	if !(minScore > 0) {
		minScore = 0
	}
	minScore = min(minScore, 1)

	top := &topK{k: min(k, s.size), hits: make([]hit, 0, min(k, s.size))}
	for _, e := range s.base {
		if _, gone := s.dead[e.id]; gone {
			continue
		}
		if _, replaced := s.delta[e.id]; replaced {
			continue
		}
		if sc := score(q, e.vec); sc >= minScore {
			top.offer(hit{e: e, score: sc})
		}
	}
	for _, e := range s.delta {
		if sc := score(q, e.vec); sc >= minScore {
			top.offer(hit{e: e, score: sc})
		}
	}
	return top.results(), nil
}

// Rebuild replaces the whole index content with corpus. Duplicate ticket ids
// keep the last occurrence. Every descriptor is validated before anything
// changes; on error the index is left as it was.
//
// Upserts and removals that complete while Rebuild runs are preserved: they
// are re-applied on top of the new content before it is published.
func (ix *Index) Rebuild(corpus []Descriptor) error {
	if !ix.building.CompareAndSwap(false, true) {
		return ErrAlreadyBuilding
	}
	defer ix.building.Store(false)

	for _, d := range corpus {
		if d.TicketID == "" {
			return ErrEmptyID
		}
		if len(d.Embedding) != ix.dim {
			return &DimensionError{TicketID: d.TicketID, Want: ix.dim, Got: len(d.Embedding)}
		}
	}

	ix.mu.Lock()
	ix.journal = make([]op, 0)
	ix.mu.Unlock()

	entries, err := ix.prepareAll(corpus)
	if err != nil {
		ix.mu.Lock()
		ix.journal = nil
		ix.mu.Unlock()
		return err
	}

	// Last occurrence wins, at the position of the first.
	base := make([]*entry, 0, len(entries))
	pos := make(map[string]int, len(entries))
	for _, e := range entries {
		if i, dup := pos[e.id]; dup {
			base[i] = e
			continue
		}
		pos[e.id] = len(base)
		base = append(base, e)
	}

	if ix.beforeSwap != nil {
		ix.beforeSwap()
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	next := newBaseSnapshot(base, time.Now())
	if len(ix.journal) > 0 {
		next = applyOps(next, ix.journal)
	}
	ix.journal = nil
	ix.publish(next)
	return nil
}

// prepareAll normalises corpus in chunks spread over the available CPUs.
func (ix *Index) prepareAll(corpus []Descriptor) ([]*entry, error) {
	out := make([]*entry, len(corpus))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < len(corpus); start += ix.chunkSize {
		end := min(start+ix.chunkSize, len(corpus))
		g.Go(func() error {
			for i := start; i < end; i++ {
				e, err := ix.prepare(corpus[i])
				if err != nil {
					return err
				}
				out[i] = e
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
