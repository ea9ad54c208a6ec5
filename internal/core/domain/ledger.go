package domain

import "time"

// EntryKind distinguishes ledger entries.
type EntryKind string

const (
	EntryCharge EntryKind = "charge"
	EntryRefund EntryKind = "refund"
)

// LedgerEntry is one element of a customer's ordered ledger. Exactly one of
// Charge or Refund is set, matching Kind.
type LedgerEntry struct {
	Kind   EntryKind     `json:"kind"`
	Charge *Charge       `json:"charge,omitempty"`
	Refund *RefundRecord `json:"refund,omitempty"`
}

// At is the time the entry was appended.
func (e LedgerEntry) At() time.Time {
	if e.Kind == EntryRefund && e.Refund != nil {
		return e.Refund.CreatedAt
	}
	if e.Charge != nil {
		return e.Charge.CreatedAt
	}
	return time.Time{}
}

// CustomerLedger is the persisted history of one customer.
type CustomerLedger struct {
	CustomerID string
	Charges    []Charge
	Refunds    []RefundRecord
	Alerts     []FraudAlert
}
