// Package postgres provides a PostgreSQL-backed ticketstore.Store. Embeddings
// live in a pgvector column so the corpus can also be searched in SQL; the
// pgvector extension is installed by [Migrate] when missing.
//
//	store, err := postgres.New(ctx, dsn, 384)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlTickets returns the DDL with the embedding dimension substituted. The
// dimension is baked into the column type when the table is first created.
func ddlTickets(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS ticket_descriptors (
    ticket_id   TEXT         PRIMARY KEY,
    text        TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ticket_descriptors_pending
    ON ticket_descriptors (created_at) WHERE embedding IS NULL;

CREATE INDEX IF NOT EXISTS idx_ticket_descriptors_embedding
    ON ticket_descriptors USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate creates the ticket table and its indexes. It is idempotent and safe
// to call on every start.
//
// dimensions must match the embedding model of the deployment. Changing it
// after the first migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions < 1 {
		return fmt.Errorf("postgres migrate: dimensions must be positive, got %d", dimensions)
	}
	if _, err := pool.Exec(ctx, ddlTickets(dimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
