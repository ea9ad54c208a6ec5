// Package storagetest holds the behaviour every storage driver must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/core/domain"
	"policy-billing-engine/internal/core/ports"
)

// Repository is what a storage driver provides.
type Repository interface {
	ports.LedgerRepository
	ports.PaymentMethodRepository
}

var base = time.Date(2026, time.July, 1, 8, 0, 0, 0, time.UTC)

func charge(id, customer string, status domain.ChargeStatus, amount string, at time.Time) domain.Charge {
	return domain.Charge{
		ID:             id,
		CustomerID:     customer,
		PaymentToken:   "pm_" + customer,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		Status:         status,
		RefundedAmount: decimal.Zero,
		IdempotencyKey: "key-" + id,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

// Run exercises newRepo's ledger and payment method contracts.
func Run(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("ledger round trip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		c1 := charge("c1", "cust-1", domain.ChargeStatusSuccess, "100.25", base)
		alert := domain.FraudAlert{
			ID: "a1", CustomerID: "cust-1", TransactionRef: "c1",
			Severity: domain.SeverityMedium, RuleTriggered: domain.RuleLargeAmount, CreatedAt: base,
		}
		require.NoError(t, repo.AppendCharge(ctx, c1, []domain.FraudAlert{alert}))
		require.NoError(t, repo.AppendCharge(ctx, charge("c2", "cust-1", domain.ChargeStatusFailed, "5", base.Add(time.Minute)), nil))
		require.NoError(t, repo.AppendCharge(ctx, charge("c3", "cust-2", domain.ChargeStatusSuccess, "7", base.Add(2*time.Minute)), nil))

		updated := c1
		updated.RefundedAmount = decimal.NewFromInt(40)
		updated.Status = domain.ChargeStatusPartiallyRefunded
		refund := domain.RefundRecord{ID: "r1", ChargeRef: "c1", CustomerID: "cust-1", Amount: decimal.NewFromInt(40), Currency: "USD", CreatedAt: base.Add(3 * time.Minute)}
		require.NoError(t, repo.AppendRefund(ctx, refund, updated))

		ledger, err := repo.LoadLedger(ctx, "cust-1")
		require.NoError(t, err)
		require.Len(t, ledger.Charges, 2)
		assert.Equal(t, "c1", ledger.Charges[0].ID)
		assert.Equal(t, domain.ChargeStatusPartiallyRefunded, ledger.Charges[0].Status)
		assert.True(t, ledger.Charges[0].RefundedAmount.Equal(decimal.NewFromInt(40)))
		assert.True(t, ledger.Charges[0].Amount.Equal(decimal.RequireFromString("100.25")))
		assert.True(t, ledger.Charges[0].CreatedAt.Equal(base))
		require.Len(t, ledger.Refunds, 1)
		assert.Equal(t, "r1", ledger.Refunds[0].ID)
		require.Len(t, ledger.Alerts, 1)
		assert.Equal(t, "a1", ledger.Alerts[0].ID)

		empty, err := repo.LoadLedger(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty.Charges)

		owner, err := repo.ChargeOwner(ctx, "c3")
		require.NoError(t, err)
		assert.Equal(t, "cust-2", owner)
		_, err = repo.ChargeOwner(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrChargeNotFound)
	})

	t.Run("fraud alert queries", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		for i, customer := range []string{"cust-1", "cust-2", "cust-1"} {
			at := base.Add(time.Duration(i) * time.Hour)
			id := string(rune('a'+i)) + "-charge"
			require.NoError(t, repo.AppendCharge(ctx, charge(id, customer, domain.ChargeStatusSuccess, "20000", at), []domain.FraudAlert{{
				ID: id + "-alert", CustomerID: customer, TransactionRef: id,
				Severity: domain.SeverityMedium, RuleTriggered: domain.RuleLargeAmount, CreatedAt: at,
			}}))
		}

		all, err := repo.ListFraudAlerts(ctx, domain.AlertFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.True(t, all[0].CreatedAt.Before(all[2].CreatedAt))

		mine, err := repo.ListFraudAlerts(ctx, domain.AlertFilter{CustomerID: "cust-1", Since: base.Add(30 * time.Minute)})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "c-charge-alert", mine[0].ID)
	})

	t.Run("payment methods", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		pm := domain.PaymentMethod{
			Token: "pm_1", MaskedNumber: "****-****-****-1111", ExpiryMonth: 8, ExpiryYear: 2029,
			OwnerCustomerID: "cust-1", CreatedAt: base,
		}
		require.NoError(t, repo.SavePaymentMethod(ctx, pm))
		require.NoError(t, repo.SavePaymentMethod(ctx, domain.PaymentMethod{Token: "pm_2", OwnerCustomerID: "cust-2", CreatedAt: base}))

		got, err := repo.GetPaymentMethod(ctx, "pm_1")
		require.NoError(t, err)
		assert.Equal(t, pm.MaskedNumber, got.MaskedNumber)
		assert.False(t, got.Revoked)

		list, err := repo.ListPaymentMethods(ctx, "cust-1")
		require.NoError(t, err)
		require.Len(t, list, 1)

		require.NoError(t, repo.RevokePaymentMethod(ctx, "pm_1"))
		require.NoError(t, repo.RevokePaymentMethod(ctx, "pm_1"))
		got, err = repo.GetPaymentMethod(ctx, "pm_1")
		require.NoError(t, err)
		assert.True(t, got.Revoked)

		_, err = repo.GetPaymentMethod(ctx, "pm_missing")
		assert.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)
		assert.ErrorIs(t, repo.RevokePaymentMethod(ctx, "pm_missing"), domain.ErrPaymentMethodNotFound)
	})
}
