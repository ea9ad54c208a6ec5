package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/adapters/storage/storagetest"
)

// Runs against a real database when POSTGRES_TEST_DSN is set. Tables are truncated.
func TestRepository(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	repo, err := NewRepository(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Migrate(ctx, repo.Pool(), logger))
	require.NoError(t, Migrate(ctx, repo.Pool(), logger), "migrations are idempotent")

	storagetest.Run(t, func(t *testing.T) storagetest.Repository {
		_, err := repo.Pool().Exec(ctx, `TRUNCATE fraud_alerts, refunds, charges, payment_methods`)
		require.NoError(t, err)
		return repo
	})
}
