package ledger

import (
	"context"
	"fmt"
	"time"

	"policy-billing-engine/internal/core/domain"
)

// Tx is a view of one customer's ledger valid only inside Store.Do.
type Tx struct {
	store      *Store
	customerID string
	cl         *customerLedger
}

// CustomerID is the customer whose section is held.
func (tx *Tx) CustomerID() string { return tx.customerID }

// ChargeByIdempotencyKey returns the charge previously created with key.
func (tx *Tx) ChargeByIdempotencyKey(key string) (domain.Charge, bool) {
	id, ok := tx.cl.byIdempotency[key]
	if !ok {
		return domain.Charge{}, false
	}
	return tx.Charge(id)
}

// Charge returns a copy of the charge.
func (tx *Tx) Charge(id string) (domain.Charge, bool) {
	c, ok := tx.cl.charges[id]
	if !ok {
		return domain.Charge{}, false
	}
	return c.Clone(), true
}

// Alerts returns the alerts attached to a charge in the order they were raised.
func (tx *Tx) Alerts(chargeID string) []domain.FraudAlert {
	return append([]domain.FraudAlert(nil), tx.cl.alerts[chargeID]...)
}

// Window returns copies of the entries appended at or after since, in ledger order.
func (tx *Tx) Window(since time.Time) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, ref := range tx.cl.entries {
		switch ref.kind {
		case domain.EntryCharge:
			c := tx.cl.charges[ref.id].Clone()
			if c.CreatedAt.Before(since) {
				continue
			}
			out = append(out, domain.LedgerEntry{Kind: domain.EntryCharge, Charge: &c})
		case domain.EntryRefund:
			r := *tx.cl.refunds[ref.id]
			if r.CreatedAt.Before(since) {
				continue
			}
			out = append(out, domain.LedgerEntry{Kind: domain.EntryRefund, Refund: &r})
		}
	}
	return out
}

// AppendCharge persists a finalized charge and its alerts as one unit.
func (tx *Tx) AppendCharge(ctx context.Context, charge domain.Charge, alerts []domain.FraudAlert) error {
	if charge.CustomerID != tx.customerID {
		return fmt.Errorf("%w: charge belongs to %s", domain.ErrInvalidRequest, charge.CustomerID)
	}
	if charge.Status != domain.ChargeStatusSuccess && charge.Status != domain.ChargeStatusFailed {
		return fmt.Errorf("%w: charge %s is not finalized (%s)", domain.ErrInvalidRequest, charge.ID, charge.Status)
	}
	if _, dup := tx.cl.charges[charge.ID]; dup {
		return fmt.Errorf("%w: charge %s already recorded", domain.ErrInvalidRequest, charge.ID)
	}
	if charge.IdempotencyKey != "" {
		if _, dup := tx.cl.byIdempotency[charge.IdempotencyKey]; dup {
			return fmt.Errorf("%w: idempotency key %s already used", domain.ErrInvalidRequest, charge.IdempotencyKey)
		}
	}

	if err := tx.store.repo.AppendCharge(ctx, charge, alerts); err != nil {
		tx.store.logger.Error("failed to persist charge", "customer_id", tx.customerID, "transaction_id", charge.ID, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	c := charge.Clone()
	tx.cl.charges[c.ID] = &c
	tx.cl.entries = append(tx.cl.entries, entryRef{domain.EntryCharge, c.ID})
	if c.IdempotencyKey != "" {
		tx.cl.byIdempotency[c.IdempotencyKey] = c.ID
	}
	if len(alerts) > 0 {
		tx.cl.alerts[c.ID] = append(tx.cl.alerts[c.ID], alerts...)
	}
	tx.store.chargeOwner.Store(c.ID, tx.customerID)
	return nil
}

// AppendRefund persists refund together with the charge state it produces.
// The refund invariant is re-checked here so no caller can push the refunded
// total past the charge amount.
func (tx *Tx) AppendRefund(ctx context.Context, refund domain.RefundRecord, updated domain.Charge) error {
	current, ok := tx.cl.charges[refund.ChargeRef]
	if !ok || updated.ID != refund.ChargeRef {
		return domain.ErrChargeNotFound
	}
	if !current.Status.CanTransition(updated.Status) {
		return &domain.RefundError{Code: domain.RefundInvalidState, ChargeRef: current.ID, Status: current.Status}
	}
	if !refund.Amount.IsPositive() || refund.Amount.GreaterThan(current.Remaining()) ||
		!updated.RefundedAmount.Equal(current.RefundedAmount.Add(refund.Amount)) {
		return &domain.RefundError{Code: domain.RefundExceedsBalance, ChargeRef: current.ID, Remaining: current.Remaining()}
	}
	if _, dup := tx.cl.refunds[refund.ID]; dup {
		return fmt.Errorf("%w: refund %s already recorded", domain.ErrInvalidRequest, refund.ID)
	}

	if err := tx.store.repo.AppendRefund(ctx, refund, updated); err != nil {
		tx.store.logger.Error("failed to persist refund", "customer_id", tx.customerID, "refund_id", refund.ID, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	c := updated.Clone()
	tx.cl.charges[c.ID] = &c
	r := refund
	tx.cl.refunds[r.ID] = &r
	tx.cl.entries = append(tx.cl.entries, entryRef{domain.EntryRefund, r.ID})
	return nil
}
