// Package sqlite provides a ticketstore.Store in a single SQLite file using
// github.com/mattn/go-sqlite3. Embeddings are stored as little-endian
// float32 BLOBs; a NULL blob marks a pending ticket.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MrWong99/voxdesk/internal/ticketstore"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

var _ ticketstore.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS ticket_descriptors (
	ticket_id   TEXT PRIMARY KEY,
	text        TEXT NOT NULL,
	embedding   BLOB,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ticket_descriptors_created_at ON ticket_descriptors(created_at);
`

// Store is a SQLite-backed ticketstore.Store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One connection: SQLite serialises writers anyway and ":memory:" is per
	// connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save implements ticketstore.Store.
func (s *Store) Save(ctx context.Context, d simindex.Descriptor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ticket_descriptors (ticket_id, text, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(ticket_id) DO UPDATE SET
		     text = excluded.text,
		     embedding = excluded.embedding,
		     created_at = excluded.created_at,
		     updated_at = CURRENT_TIMESTAMP`,
		d.TicketID, d.Text, encodeVector(d.Embedding), createdAt(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save %q: %w", d.TicketID, err)
	}
	return nil
}

// SavePending implements ticketstore.Store.
func (s *Store) SavePending(ctx context.Context, id, text string, created time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ticket_descriptors (ticket_id, text, embedding, created_at, updated_at)
		 VALUES (?, ?, NULL, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(ticket_id) DO UPDATE SET
		     text = excluded.text,
		     embedding = NULL,
		     created_at = excluded.created_at,
		     updated_at = CURRENT_TIMESTAMP`,
		id, text, createdAt(created),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save pending %q: %w", id, err)
	}
	return nil
}

// Delete implements ticketstore.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ticket_descriptors WHERE ticket_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: delete %q: %w", id, err)
	}
	return nil
}

// LoadCorpus implements ticketstore.Store.
func (s *Store) LoadCorpus(ctx context.Context) ([]simindex.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_id, text, embedding, created_at FROM ticket_descriptors ORDER BY created_at, ticket_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load corpus: %w", err)
	}
	defer rows.Close()

	var corpus []simindex.Descriptor
	for rows.Next() {
		var (
			d    simindex.Descriptor
			blob []byte
		)
		if err := rows.Scan(&d.TicketID, &d.Text, &blob, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite store: scan corpus: %w", err)
		}
		if d.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("sqlite store: ticket %q: %w", d.TicketID, err)
		}
		corpus = append(corpus, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: load corpus: %w", err)
	}
	return corpus, nil
}

// Pending implements ticketstore.Store.
func (s *Store) Pending(ctx context.Context, limit int) ([]ticketstore.PendingTicket, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_id, text, created_at FROM ticket_descriptors
		 WHERE embedding IS NULL ORDER BY created_at, ticket_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: pending: %w", err)
	}
	defer rows.Close()

	var out []ticketstore.PendingTicket
	for rows.Next() {
		var p ticketstore.PendingTicket
		if err := rows.Scan(&p.TicketID, &p.Text, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite store: scan pending: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Ping implements ticketstore.Store.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements ticketstore.Store.
func (s *Store) Close() error { return s.db.Close() }

var errBlobLength = errors.New("embedding blob length is not a multiple of 4")

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, errBlobLength
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
