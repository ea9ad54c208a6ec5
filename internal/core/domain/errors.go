package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrPaymentMethodNotFound  = errors.New("payment method not found")
	ErrPaymentMethodRevoked   = errors.New("payment method revoked")
	ErrChargeNotFound         = errors.New("charge not found")
	ErrStorageUnavailable     = errors.New("storage is unavailable")
	ErrSettlementUnavailable  = errors.New("settlement gateway is unavailable")
	ErrBrokerUnavailable      = errors.New("kafka broker is unavailable")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
)

// ValidationCode identifies which card field failed validation.
type ValidationCode string

const (
	InvalidNumber ValidationCode = "INVALID_NUMBER"
	Expired       ValidationCode = "EXPIRED"
	InvalidExpiry ValidationCode = "INVALID_EXPIRY"
	InvalidCVV    ValidationCode = "INVALID_CVV"
)

// ValidationError is a caller input defect; it is never retried.
type ValidationError struct {
	Code ValidationCode
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("card validation failed: %s", e.Code)
}

// Is lets errors.Is match on the code alone.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

// LimitExceededError is a policy rejection of the charge amount.
type LimitExceededError struct {
	Amount decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("amount %s outside allowed range (%s, %s]", e.Amount, e.Min, e.Max)
}

// RefundCode identifies why a refund was rejected.
type RefundCode string

const (
	RefundInvalidState   RefundCode = "INVALID_STATE"
	RefundExceedsBalance RefundCode = "EXCEEDS_BALANCE"
)

// RefundError rejects a refund without applying any part of it.
type RefundError struct {
	Code      RefundCode
	ChargeRef string
	Status    ChargeStatus
	Remaining decimal.Decimal
}

func (e *RefundError) Error() string {
	switch e.Code {
	case RefundInvalidState:
		return fmt.Sprintf("refund rejected: charge %s is %s", e.ChargeRef, e.Status)
	case RefundExceedsBalance:
		return fmt.Sprintf("refund rejected: charge %s has %s remaining", e.ChargeRef, e.Remaining)
	default:
		return fmt.Sprintf("refund rejected: %s", e.Code)
	}
}

// Is lets errors.Is match on the code alone.
func (e *RefundError) Is(target error) bool {
	t, ok := target.(*RefundError)
	return ok && t.Code == e.Code
}

// GatewayTimeoutError is returned after settlement retries are exhausted.
// The charge has already been resolved to failed.
type GatewayTimeoutError struct {
	TransactionID string
	Attempts      int
	Err           error
}

func (e *GatewayTimeoutError) Error() string {
	return fmt.Sprintf("settlement for %s timed out after %d attempts: %v", e.TransactionID, e.Attempts, e.Err)
}

func (e *GatewayTimeoutError) Unwrap() error { return e.Err }

// FraudBlockError is returned only when the blocking policy stops settlement.
type FraudBlockError struct {
	TransactionID string
	Severity      Severity
	Rules         []string
}

func (e *FraudBlockError) Error() string {
	return fmt.Sprintf("charge %s blocked by fraud policy (severity %s, rules %v)", e.TransactionID, e.Severity, e.Rules)
}
