package ports

import (
	"context"
	"time"

	"policy-billing-engine/internal/core/domain"
)

// Clock supplies validation and alert timestamps.
type Clock interface {
	Now() time.Time
}

// PaymentMethodRepository persists tokenized payment methods.
// Implementations exist for memory, BoltDB and PostgreSQL.
type PaymentMethodRepository interface {
	SavePaymentMethod(ctx context.Context, pm domain.PaymentMethod) error
	GetPaymentMethod(ctx context.Context, token string) (domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error)
	RevokePaymentMethod(ctx context.Context, token string) error
}

// LedgerRepository is the durable append-only storage behind the ledger store.
// Each Append call must be atomic.
type LedgerRepository interface {
	AppendCharge(ctx context.Context, charge domain.Charge, alerts []domain.FraudAlert) error
	// AppendRefund stores the refund and the charge as updated by it.
	AppendRefund(ctx context.Context, refund domain.RefundRecord, charge domain.Charge) error
	LoadLedger(ctx context.Context, customerID string) (domain.CustomerLedger, error)
	ChargeOwner(ctx context.Context, chargeID string) (string, error)
	ListFraudAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.FraudAlert, error)
}

// SettlementGateway is the external payment-network collaborator.
// A returned error is treated as transient, like SettlementTimeout.
type SettlementGateway interface {
	Authorize(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, error)
}

// MessageBroker publishes billing events for downstream consumers.
type MessageBroker interface {
	PublishChargeSettled(ctx context.Context, charge domain.Charge) error
	PublishRefundApplied(ctx context.Context, refund domain.RefundRecord, status domain.ChargeStatus) error
	PublishFraudAlert(ctx context.Context, alert domain.FraudAlert) error
}

// RateLimiterRepository backs the per-client HTTP rate limiter.
type RateLimiterRepository interface {
	IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BillingService is the incoming port used by the HTTP adapter and tools.
type BillingService interface {
	RegisterPaymentMethod(ctx context.Context, in domain.RegisterCardInput) (*domain.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, token string) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error)
	RevokePaymentMethod(ctx context.Context, token string) error

	Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error)
	GetCharge(ctx context.Context, chargeID string) (*domain.Charge, error)
	Refund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error)

	FraudAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.FraudAlert, error)
	Statement(ctx context.Context, customerID string, from, to time.Time) (*domain.Statement, error)
}
