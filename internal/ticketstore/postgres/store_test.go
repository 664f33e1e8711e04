package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxdesk/internal/ticketstore"
	"github.com/MrWong99/voxdesk/internal/ticketstore/postgres"
	"github.com/MrWong99/voxdesk/internal/ticketstore/storetest"
)

const testDimensions = 3

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXDESK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXDESK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore returns a Store on a freshly dropped and migrated schema.
func newTestStore(t *testing.T) ticketstore.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS ticket_descriptors CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	pool.Close()

	s, err := postgres.New(ctx, dsn, testDimensions)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// The subtests share one table, so this test must not run in parallel.
func TestStore(t *testing.T) {
	testDSN(t)
	storetest.Run(t, newTestStore)
}

func TestMigrate_Idempotent(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()
	_ = newTestStore(t)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	for range 2 {
		if err := postgres.Migrate(ctx, pool, testDimensions); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}

func TestMigrate_RejectsZeroDimensions(t *testing.T) {
	t.Parallel()

	if err := postgres.Migrate(context.Background(), nil, 0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}
