package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundRecord is an applied (never pending) refund against a prior charge.
type RefundRecord struct {
	ID         string          `json:"refund_id"`
	ChargeRef  string          `json:"charge_ref"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason"`
	CreatedAt  time.Time       `json:"created_at"`
}
