package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxdesk/internal/ticketstore"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

var _ ticketstore.Store = (*Store)(nil)

// Store is a ticketstore.Store on a [pgxpool.Pool]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, registers pgvector types on every
// connection and runs [Migrate].
func New(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save implements ticketstore.Store.
func (s *Store) Save(ctx context.Context, d simindex.Descriptor) error {
	const q = `
		INSERT INTO ticket_descriptors (ticket_id, text, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (ticket_id) DO UPDATE SET
		    text       = EXCLUDED.text,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, d.TicketID, d.Text, pgvector.NewVector(d.Embedding), createdAt(d.CreatedAt)); err != nil {
		return fmt.Errorf("postgres store: save %q: %w", d.TicketID, err)
	}
	return nil
}

// SavePending implements ticketstore.Store.
func (s *Store) SavePending(ctx context.Context, id, text string, created time.Time) error {
	const q = `
		INSERT INTO ticket_descriptors (ticket_id, text, embedding, created_at, updated_at)
		VALUES ($1, $2, NULL, $3, now())
		ON CONFLICT (ticket_id) DO UPDATE SET
		    text       = EXCLUDED.text,
		    embedding  = NULL,
		    created_at = EXCLUDED.created_at,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, id, text, createdAt(created)); err != nil {
		return fmt.Errorf("postgres store: save pending %q: %w", id, err)
	}
	return nil
}

// Delete implements ticketstore.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ticket_descriptors WHERE ticket_id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete %q: %w", id, err)
	}
	return nil
}

// LoadCorpus implements ticketstore.Store.
func (s *Store) LoadCorpus(ctx context.Context) ([]simindex.Descriptor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, text, embedding, created_at
		FROM   ticket_descriptors
		ORDER  BY created_at, ticket_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load corpus: %w", err)
	}

	corpus, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (simindex.Descriptor, error) {
		var (
			d   simindex.Descriptor
			vec *pgvector.Vector
		)
		if err := row.Scan(&d.TicketID, &d.Text, &vec, &d.CreatedAt); err != nil {
			return simindex.Descriptor{}, err
		}
		if vec != nil {
			d.Embedding = vec.Slice()
		}
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan corpus: %w", err)
	}
	return corpus, nil
}

// Pending implements ticketstore.Store.
func (s *Store) Pending(ctx context.Context, limit int) ([]ticketstore.PendingTicket, error) {
	q := `
		SELECT ticket_id, text, created_at
		FROM   ticket_descriptors
		WHERE  embedding IS NULL
		ORDER  BY created_at, ticket_id`
	var args []any
	if limit > 0 {
		q += "\n\t\tLIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: pending: %w", err)
	}
	pending, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ticketstore.PendingTicket, error) {
		var p ticketstore.PendingTicket
		err := row.Scan(&p.TicketID, &p.Text, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan pending: %w", err)
	}
	return pending, nil
}

// Ping implements ticketstore.Store.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close implements ticketstore.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
