package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Runs against a real database only when LEDGER_TEST_DATABASE_URL is set.
// The transfers table is truncated before every subtest.
func TestPostgresRepositoryContract(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	runRepositoryContract(t, func(t *testing.T, opts Options) Repository {
		repo := NewPostgresRepository(pool, opts)
		require.NoError(t, repo.Initialize(ctx))
		require.NoError(t, repo.Initialize(ctx))
		_, err := pool.Exec(ctx, "TRUNCATE transfers")
		require.NoError(t, err)
		return repo
	})
}
