package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegisterCardInput carries raw card data for a single validation call.
type RegisterCardInput struct {
	CustomerID string
	CardNumber string
	Expiry     Expiry
	CVV        string
}

// ChargeRequest asks to debit a stored payment method.
type ChargeRequest struct {
	CustomerID     string          `json:"customer_id"`
	PaymentToken   string          `json:"payment_token"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// ChargeResult is a charge together with the alerts raised while evaluating it.
type ChargeResult struct {
	Charge   Charge       `json:"charge"`
	Alerts   []FraudAlert `json:"fraud_alerts"`
	Replayed bool         `json:"replayed"`
}

// RefundRequest asks to return part or all of a settled charge.
type RefundRequest struct {
	ChargeRef string          `json:"charge_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

// RefundResult is the applied refund and the charge status it produced.
type RefundResult struct {
	Refund          RefundRecord `json:"refund"`
	NewChargeStatus ChargeStatus `json:"new_charge_status"`
}

// StatementLine is one ledger entry with the running balance after it.
type StatementLine struct {
	At             time.Time       `json:"at"`
	Kind           EntryKind       `json:"kind"`
	Reference      string          `json:"reference"`
	ChargeRef      string          `json:"charge_ref,omitempty"`
	Status         ChargeStatus    `json:"status,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// StatementTotals aggregates one currency of a statement.
type StatementTotals struct {
	Charged  decimal.Decimal `json:"charged"`
	Refunded decimal.Decimal `json:"refunded"`
	Net      decimal.Decimal `json:"net"`
	Failed   int             `json:"failed_charges"`
}

// Statement is a customer's ledger folded over a period.
type Statement struct {
	CustomerID string                     `json:"customer_id"`
	From       time.Time                  `json:"from"`
	To         time.Time                  `json:"to"`
	Opening    map[string]decimal.Decimal `json:"opening_balance"`
	Lines      []StatementLine            `json:"lines"`
	Totals     map[string]StatementTotals `json:"totals"`
}
