// Package memory provides an in-process ticketstore.Store for tests, dry runs
// and deployments that rebuild their corpus from an import on every start.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxdesk/internal/ticketstore"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

var _ ticketstore.Store = (*Store)(nil)

type row struct {
	d   simindex.Descriptor
	seq uint64 // insertion order, for stable output
}

// Store keeps descriptors in a map. The zero value is ready to use.
type Store struct {
	mu   sync.RWMutex
	rows map[string]row
	seq  uint64
}

// New returns an empty Store.
func New() *Store { return &Store{} }

func (s *Store) put(d simindex.Descriptor) {
	if s.rows == nil {
		s.rows = make(map[string]row)
	}
	seq := s.seq
	if old, ok := s.rows[d.TicketID]; ok {
		seq = old.seq
	} else {
		s.seq++
	}
	s.rows[d.TicketID] = row{d: d, seq: seq}
}

// Save implements ticketstore.Store.
func (s *Store) Save(_ context.Context, d simindex.Descriptor) error {
	d.Embedding = slices.Clone(d.Embedding)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(d)
	return nil
}

// SavePending implements ticketstore.Store.
func (s *Store) SavePending(_ context.Context, id, text string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(simindex.Descriptor{TicketID: id, Text: text, CreatedAt: createdAt})
	return nil
}

// Delete implements ticketstore.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *Store) sorted() []row {
	rows := make([]row, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b row) int { return cmp.Compare(a.seq, b.seq) })
	return rows
}

// LoadCorpus implements ticketstore.Store. Rows come back in insertion order.
func (s *Store) LoadCorpus(_ context.Context) ([]simindex.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]simindex.Descriptor, 0, len(s.rows))
	for _, r := range s.sorted() {
		d := r.d
		d.Embedding = slices.Clone(d.Embedding)
		out = append(out, d)
	}
	return out, nil
}

// Pending implements ticketstore.Store.
func (s *Store) Pending(_ context.Context, limit int) ([]ticketstore.PendingTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ticketstore.PendingTicket
	for _, r := range s.sorted() {
		if len(r.d.Embedding) > 0 {
			continue
		}
		out = append(out, ticketstore.PendingTicket{TicketID: r.d.TicketID, Text: r.d.Text, CreatedAt: r.d.CreatedAt})
	}
	slices.SortStableFunc(out, func(a, b ticketstore.PendingTicket) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Ping implements ticketstore.Store. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements ticketstore.Store. It is a no-op.
func (s *Store) Close() error { return nil }
