package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/adapters/storage/storagetest"
	"policy-billing-engine/internal/core/domain"
)

func TestRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Repository {
		repo, err := New(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestRepository_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	at := time.Date(2026, time.July, 1, 8, 0, 0, 0, time.UTC)

	repo, err := New(path)
	require.NoError(t, err)
	require.NoError(t, repo.AppendCharge(ctx, domain.Charge{
		ID: "c1", CustomerID: "cust-1", Amount: decimal.NewFromInt(12), Currency: "USD",
		Status: domain.ChargeStatusSuccess, CreatedAt: at,
	}, nil))
	assert.Error(t, repo.AppendCharge(ctx, domain.Charge{ID: "c1", CustomerID: "cust-1", Status: domain.ChargeStatusSuccess}, nil))
	require.NoError(t, repo.Close())

	repo, err = New(path)
	require.NoError(t, err)
	defer repo.Close()
	ledger, err := repo.LoadLedger(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, ledger.Charges, 1)
	assert.True(t, ledger.Charges[0].Amount.Equal(decimal.NewFromInt(12)))
}
