// Package storetest holds the behaviour every ticketstore.Store backend must
// share. Backend packages call [Run] from their own tests.
package storetest

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxdesk/internal/ticketstore"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

// Run exercises a Store. newStore must return an empty store using three
// dimensional embeddings; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) ticketstore.Store) {
	t.Helper()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("SaveAndLoad", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := simindex.Descriptor{TicketID: "1", Text: "ইন্টারনেট ধীর", Embedding: []float32{0.25, -1, 3.5}, CreatedAt: base}
		if err := s.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}
		corpus, err := s.LoadCorpus(ctx)
		if err != nil {
			t.Fatalf("LoadCorpus: %v", err)
		}
		if len(corpus) != 1 {
			t.Fatalf("len(corpus) = %d, want 1", len(corpus))
		}
		got := corpus[0]
		if got.TicketID != want.TicketID || got.Text != want.Text || !slices.Equal(got.Embedding, want.Embedding) {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Save(ctx, simindex.Descriptor{TicketID: "1", Text: "old", Embedding: []float32{1, 0, 0}, CreatedAt: base})
		_ = s.Save(ctx, simindex.Descriptor{TicketID: "1", Text: "new", Embedding: []float32{0, 1, 0}, CreatedAt: base})
		corpus, _ := s.LoadCorpus(ctx)
		if len(corpus) != 1 || corpus[0].Text != "new" || corpus[0].Embedding[1] != 1 {
			t.Errorf("corpus = %+v", corpus)
		}
	})

	t.Run("PendingLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Save(ctx, simindex.Descriptor{TicketID: "done", Text: "x", Embedding: []float32{1, 0, 0}, CreatedAt: base})
		if err := s.SavePending(ctx, "late", "second", base.Add(2*time.Minute)); err != nil {
			t.Fatalf("SavePending: %v", err)
		}
		_ = s.SavePending(ctx, "early", "first", base.Add(time.Minute))

		pending, err := s.Pending(ctx, 0)
		if err != nil {
			t.Fatalf("Pending: %v", err)
		}
		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.TicketID
		}
		if !slices.Equal(ids, []string{"early", "late"}) {
			t.Errorf("pending = %v, want [early late]", ids)
		}
		if limited, _ := s.Pending(ctx, 1); len(limited) != 1 || limited[0].TicketID != "early" {
			t.Errorf("Pending(1) = %+v", limited)
		}

		corpus, _ := s.LoadCorpus(ctx)
		if len(corpus) != 3 {
			t.Fatalf("len(corpus) = %d, want 3", len(corpus))
		}
		for _, d := range corpus {
			if d.TicketID != "done" && d.Embedding != nil {
				t.Errorf("pending row %s has embedding %v", d.TicketID, d.Embedding)
			}
		}

		// Embedding a pending row clears its pending state.
		_ = s.Save(ctx, simindex.Descriptor{TicketID: "early", Text: "first", Embedding: []float32{0, 0, 1}, CreatedAt: base})
		if pending, _ := s.Pending(ctx, 0); len(pending) != 1 || pending[0].TicketID != "late" {
			t.Errorf("pending after save = %+v", pending)
		}

		// Re-pending an embedded row drops its stale vector.
		_ = s.SavePending(ctx, "done", "edited", base)
		corpus, _ = s.LoadCorpus(ctx)
		for _, d := range corpus {
			if d.TicketID == "done" && (d.Embedding != nil || d.Text != "edited") {
				t.Errorf("re-pended row = %+v", d)
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Save(ctx, simindex.Descriptor{TicketID: "1", Text: "a", Embedding: []float32{1, 0, 0}, CreatedAt: base})
		_ = s.SavePending(ctx, "2", "b", base)
		if err := s.Delete(ctx, "1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, "2"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, "missing"); err != nil {
			t.Errorf("Delete of unknown id: %v", err)
		}
		if corpus, _ := s.LoadCorpus(ctx); len(corpus) != 0 {
			t.Errorf("corpus after delete = %+v", corpus)
		}
		if pending, _ := s.Pending(ctx, 0); len(pending) != 0 {
			t.Errorf("pending after delete = %+v", pending)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
