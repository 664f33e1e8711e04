// Package ticketstore defines the durable home of ticket descriptors: the
// text that is indexed for similarity and, once computed, its embedding.
//
// A descriptor is either embedded (it carries a vector and is part of the
// similarity corpus as is) or pending (its text is stored but embedding
// failed or has not happened yet). Pending rows are returned by LoadCorpus
// without an embedding so an index build can embed them, and by Pending so
// they can be retried one by one.
//
// Backends live in sub-packages: memory, sqlite and postgres.
package ticketstore

import (
	"context"
	"time"

	"github.com/MrWong99/voxdesk/pkg/simindex"
)

// PendingTicket is a stored descriptor that still lacks an embedding.
type PendingTicket struct {
	TicketID  string
	Text      string
	CreatedAt time.Time
}

// Store persists ticket descriptors. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save stores d with its embedding, replacing any row with the same id
	// and clearing its pending state.
	Save(ctx context.Context, d simindex.Descriptor) error

	// SavePending stores the text of a ticket whose embedding is not
	// available. An existing embedding for id is discarded since it no
	// longer matches the text.
	SavePending(ctx context.Context, id, text string, createdAt time.Time) error

	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// LoadCorpus returns every stored descriptor. Pending rows have a nil
	// Embedding.
	LoadCorpus(ctx context.Context) ([]simindex.Descriptor, error)

	// Pending returns up to limit pending tickets, oldest first. A limit of 0
	// or less returns all of them.
	Pending(ctx context.Context, limit int) ([]PendingTicket, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
