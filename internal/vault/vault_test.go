package vault

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/adapters/storage/memory"
	"policy-billing-engine/internal/clock"
	"policy-billing-engine/internal/core/domain"
)

func newTestVault(t *testing.T) (*Vault, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.NewRepository(), clk, logger), clk
}

func TestVault_RegisterMasksAndTokenizes(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	pm, err := v.Register(ctx, domain.RegisterCardInput{
		CustomerID: "cust-1",
		CardNumber: "4111 1111 1111 1111",
		Expiry:     domain.Expiry{Month: 8, Year: 29},
		CVV:        "123",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(pm.Token, tokenPrefix))
	assert.Len(t, pm.Token, len(tokenPrefix)+32)
	assert.Equal(t, "****-****-****-1111", pm.MaskedNumber)
	assert.Equal(t, 2029, pm.ExpiryYear)
	assert.Equal(t, "cust-1", pm.OwnerCustomerID)

	digits := strings.Count(pm.MaskedNumber, "1")
	assert.LessOrEqual(t, digits, 4, "masked number exposes at most the last four digits")

	got, err := v.Resolve(ctx, pm.Token)
	require.NoError(t, err)
	assert.Equal(t, *pm, *got)
}

func TestVault_TokensAreUnique(t *testing.T) {
	v, _ := newTestVault(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		pm, err := v.Register(context.Background(), domain.RegisterCardInput{
			CustomerID: "cust-1",
			CardNumber: "4242424242424242",
			Expiry:     domain.Expiry{Month: 1, Year: 2030},
			CVV:        "999",
		})
		require.NoError(t, err)
		assert.False(t, seen[pm.Token])
		seen[pm.Token] = true
	}
}

func TestVault_RegisterRejectsInvalidCard(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.Register(context.Background(), domain.RegisterCardInput{
		CustomerID: "cust-1",
		CardNumber: "4111111111111112",
		Expiry:     domain.Expiry{Month: 8, Year: 2029},
		CVV:        "123",
	})
	assert.ErrorIs(t, err, &domain.ValidationError{Code: domain.InvalidNumber})

	_, err = v.Register(context.Background(), domain.RegisterCardInput{
		CardNumber: "4111111111111111",
		Expiry:     domain.Expiry{Month: 8, Year: 2029},
		CVV:        "123",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestVault_ResolveForCharge(t *testing.T) {
	v, clk := newTestVault(t)
	ctx := context.Background()

	pm, err := v.Register(ctx, domain.RegisterCardInput{
		CustomerID: "cust-1",
		CardNumber: "5555555555554444",
		Expiry:     domain.Expiry{Month: 7, Year: 2026},
		CVV:        "321",
	})
	require.NoError(t, err)

	_, err = v.ResolveForCharge(ctx, "cust-1", pm.Token)
	require.NoError(t, err)

	_, err = v.ResolveForCharge(ctx, "cust-2", pm.Token)
	assert.ErrorIs(t, err, domain.ErrPaymentMethodNotFound, "foreign tokens are hidden")

	_, err = v.ResolveForCharge(ctx, "cust-1", "pm_missing")
	assert.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	clk.Set(time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC))
	_, err = v.ResolveForCharge(ctx, "cust-1", pm.Token)
	assert.ErrorIs(t, err, &domain.ValidationError{Code: domain.Expired})
}

func TestVault_Revoke(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	pm, err := v.Register(ctx, domain.RegisterCardInput{
		CustomerID: "cust-1",
		CardNumber: "4111111111111111",
		Expiry:     domain.Expiry{Month: 8, Year: 2029},
		CVV:        "123",
	})
	require.NoError(t, err)

	require.NoError(t, v.Revoke(ctx, pm.Token))
	require.NoError(t, v.Revoke(ctx, pm.Token), "revoking twice is a no-op")

	_, err = v.ResolveForCharge(ctx, "cust-1", pm.Token)
	assert.ErrorIs(t, err, domain.ErrPaymentMethodRevoked)

	got, err := v.Resolve(ctx, pm.Token)
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	assert.ErrorIs(t, v.Revoke(ctx, "pm_missing"), domain.ErrPaymentMethodNotFound)
}

func TestVault_List(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	for _, customer := range []string{"cust-1", "cust-1", "cust-2"} {
		_, err := v.Register(ctx, domain.RegisterCardInput{
			CustomerID: customer,
			CardNumber: "4111111111111111",
			Expiry:     domain.Expiry{Month: 8, Year: 2029},
			CVV:        "123",
		})
		require.NoError(t, err)
	}

	methods, err := v.List(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, methods, 2)

	methods, err = v.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, methods)
}
