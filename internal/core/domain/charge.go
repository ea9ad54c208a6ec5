package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeStatus is the lifecycle state of a charge.
type ChargeStatus string

const (
	ChargeStatusPending           ChargeStatus = "pending"
	ChargeStatusSuccess           ChargeStatus = "success"
	ChargeStatusFailed            ChargeStatus = "failed"
	ChargeStatusPartiallyRefunded ChargeStatus = "partially_refunded"
	ChargeStatusRefunded          ChargeStatus = "refunded"
)

// Failure codes recorded on failed charges.
const (
	FailureDeclined       = "declined"
	FailureGatewayTimeout = "gateway_timeout"
	FailureFraudBlocked   = "fraud_blocked"
)

// AmountScale is the number of decimal places every storage driver keeps for money.
const AmountScale = 4

// HasValidScale reports whether amount fits AmountScale without rounding.
func HasValidScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(AmountScale))
}

// IsTerminal reports whether no further transition is possible.
func (s ChargeStatus) IsTerminal() bool {
	return s == ChargeStatusFailed || s == ChargeStatusRefunded
}

// Refundable reports whether refunds may be applied in this state.
func (s ChargeStatus) Refundable() bool {
	return s == ChargeStatusSuccess || s == ChargeStatusPartiallyRefunded
}

// CanTransition reports whether s -> next is a forward move of the charge state machine.
func (s ChargeStatus) CanTransition(next ChargeStatus) bool {
	switch s {
	case ChargeStatusPending:
		return next == ChargeStatusSuccess || next == ChargeStatusFailed
	case ChargeStatusSuccess:
		return next == ChargeStatusPartiallyRefunded || next == ChargeStatusRefunded
	case ChargeStatusPartiallyRefunded:
		return next == ChargeStatusPartiallyRefunded || next == ChargeStatusRefunded
	default:
		return false
	}
}

// Charge is a single debit attempt against a stored payment method.
type Charge struct {
	ID             string          `json:"transaction_id"`
	CustomerID     string          `json:"customer_id"`
	PaymentToken   string          `json:"payment_token"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         ChargeStatus    `json:"status"`
	FailureCode    string          `json:"failure_code,omitempty"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	FraudAlerts    []string        `json:"fraud_alerts"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Remaining is the amount still available for refunds.
func (c Charge) Remaining() decimal.Decimal {
	return c.Amount.Sub(c.RefundedAmount)
}

// Clone returns a copy that shares no slices with c.
func (c Charge) Clone() Charge {
	if c.FraudAlerts != nil {
		c.FraudAlerts = append([]string(nil), c.FraudAlerts...)
	}
	return c
}
