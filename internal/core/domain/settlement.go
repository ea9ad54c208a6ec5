package domain

import "github.com/shopspring/decimal"

// SettlementOutcome is the settlement collaborator's verdict on one attempt.
type SettlementOutcome string

const (
	SettlementApproved SettlementOutcome = "approved"
	SettlementDeclined SettlementOutcome = "declined"
	SettlementTimeout  SettlementOutcome = "timeout"
)

// SettlementRequest is sent unchanged on every retry so the collaborator can deduplicate.
type SettlementRequest struct {
	TransactionID  string          `json:"transaction_id"`
	Token          string          `json:"token"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
}
