// Package memory is a process-local implementation of the storage ports.
// It backs tests and the "memory" storage driver.
package memory

import (
	"context"
	"sort"
	"sync"

	"policy-billing-engine/internal/core/domain"
)

type customerRecords struct {
	mu      sync.Mutex
	charges []domain.Charge
	refunds []domain.RefundRecord
	alerts  []domain.FraudAlert
}

// Repository keeps records sharded per customer.
type Repository struct {
	customers    sync.Map // customerID -> *customerRecords
	chargeOwners sync.Map // chargeID -> customerID
	methods      sync.Map // token -> *methodRecord
}

type methodRecord struct {
	mu sync.Mutex
	pm domain.PaymentMethod
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) records(customerID string) *customerRecords {
	v, _ := r.customers.LoadOrStore(customerID, &customerRecords{})
	return v.(*customerRecords)
}

func (r *Repository) AppendCharge(_ context.Context, charge domain.Charge, alerts []domain.FraudAlert) error {
	rec := r.records(charge.CustomerID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.charges = append(rec.charges, charge.Clone())
	rec.alerts = append(rec.alerts, alerts...)
	r.chargeOwners.Store(charge.ID, charge.CustomerID)
	return nil
}

func (r *Repository) AppendRefund(_ context.Context, refund domain.RefundRecord, charge domain.Charge) error {
	rec := r.records(charge.CustomerID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	for i := range rec.charges {
		if rec.charges[i].ID == charge.ID {
			rec.charges[i] = charge.Clone()
			rec.refunds = append(rec.refunds, refund)
			return nil
		}
	}
	return domain.ErrChargeNotFound
}

func (r *Repository) LoadLedger(_ context.Context, customerID string) (domain.CustomerLedger, error) {
	ledger := domain.CustomerLedger{CustomerID: customerID}
	v, ok := r.customers.Load(customerID)
	if !ok {
		return ledger, nil
	}
	rec := v.(*customerRecords)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	for _, c := range rec.charges {
		ledger.Charges = append(ledger.Charges, c.Clone())
	}
	ledger.Refunds = append(ledger.Refunds, rec.refunds...)
	ledger.Alerts = append(ledger.Alerts, rec.alerts...)
	return ledger, nil
}

func (r *Repository) ChargeOwner(_ context.Context, chargeID string) (string, error) {
	v, ok := r.chargeOwners.Load(chargeID)
	if !ok {
		return "", domain.ErrChargeNotFound
	}
	return v.(string), nil
}

func (r *Repository) ListFraudAlerts(_ context.Context, filter domain.AlertFilter) ([]domain.FraudAlert, error) {
	var out []domain.FraudAlert
	r.customers.Range(func(_, v any) bool {
		rec := v.(*customerRecords)
		rec.mu.Lock()
		for _, a := range rec.alerts {
			if filter.Matches(a) {
				out = append(out, a)
			}
		}
		rec.mu.Unlock()
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) SavePaymentMethod(_ context.Context, pm domain.PaymentMethod) error {
	r.methods.Store(pm.Token, &methodRecord{pm: pm})
	return nil
}

func (r *Repository) GetPaymentMethod(_ context.Context, token string) (domain.PaymentMethod, error) {
	v, ok := r.methods.Load(token)
	if !ok {
		return domain.PaymentMethod{}, domain.ErrPaymentMethodNotFound
	}
	rec := v.(*methodRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.pm, nil
}

func (r *Repository) ListPaymentMethods(_ context.Context, customerID string) ([]domain.PaymentMethod, error) {
	out := []domain.PaymentMethod{}
	r.methods.Range(func(_, v any) bool {
		rec := v.(*methodRecord)
		rec.mu.Lock()
		if rec.pm.OwnerCustomerID == customerID {
			out = append(out, rec.pm)
		}
		rec.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) RevokePaymentMethod(_ context.Context, token string) error {
	v, ok := r.methods.Load(token)
	if !ok {
		return domain.ErrPaymentMethodNotFound
	}
	rec := v.(*methodRecord)
	rec.mu.Lock()
	rec.pm.Revoked = true
	rec.mu.Unlock()
	return nil
}
