package kafka

import (
	"time"

	"github.com/shopspring/decimal"

	"policy-billing-engine/internal/core/domain"
)

// Event types, carried in the "event_type" record header.
const (
	EventChargeSettled = "charge.settled"
	EventRefundApplied = "refund.applied"
	EventFraudAlert    = "fraud.alert"
)

// ChargeEvent is the value of a charge.settled record.
type ChargeEvent struct {
	TransactionID  string              `json:"transaction_id"`
	CustomerID     string              `json:"customer_id"`
	Status         domain.ChargeStatus `json:"status"`
	FailureCode    string              `json:"failure_code,omitempty"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	FraudAlerts    []string            `json:"fraud_alerts"`
	IdempotencyKey string              `json:"idempotency_key"`
	CreatedAt      time.Time           `json:"created_at"`
}

// RefundEvent is the value of a refund.applied record.
type RefundEvent struct {
	RefundID        string              `json:"refund_id"`
	TransactionID   string              `json:"transaction_id"`
	CustomerID      string              `json:"customer_id"`
	Amount          decimal.Decimal     `json:"amount"`
	Currency        string              `json:"currency"`
	Reason          string              `json:"reason,omitempty"`
	NewChargeStatus domain.ChargeStatus `json:"new_charge_status"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Fraud alert records carry domain.FraudAlert as their value.
