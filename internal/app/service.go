package app

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"policy-billing-engine/internal/antifraud"
	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/core/domain"
	"policy-billing-engine/internal/core/ports"
	"policy-billing-engine/internal/ledger"
	"policy-billing-engine/internal/vault"
)

// Settler runs one settlement to a final outcome, retries included.
type Settler interface {
	Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, int, error)
}

// Deps are the collaborators of the billing service.
type Deps struct {
	Vault      *vault.Vault
	Ledger     *ledger.Store
	Detector   *antifraud.Detector
	Policy     antifraud.Policy
	Settlement Settler
	Broker     ports.MessageBroker
	Clock      ports.Clock
	Limits     config.BillingConfig
	Logger     *slog.Logger
}

type service struct {
	vault      *vault.Vault
	ledger     *ledger.Store
	detector   *antifraud.Detector
	policy     antifraud.Policy
	settlement Settler
	broker     ports.MessageBroker
	clock      ports.Clock
	minAmount  decimal.Decimal
	maxAmount  decimal.Decimal
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewBillingService - constructor for the billing engine.
func NewBillingService(d Deps) ports.BillingService {
	return &service{
		vault:      d.Vault,
		ledger:     d.Ledger,
		detector:   d.Detector,
		policy:     d.Policy,
		settlement: d.Settlement,
		broker:     d.Broker,
		clock:      d.Clock,
		minAmount:  decimal.NewFromFloat(d.Limits.MinTransaction),
		maxAmount:  decimal.NewFromFloat(d.Limits.MaxTransaction),
		logger:     d.Logger,
		tracer:     otel.Tracer("policy-billing-engine/internal/app"),
	}
}

func (s *service) RegisterPaymentMethod(ctx context.Context, in domain.RegisterCardInput) (*domain.PaymentMethod, error) {
	ctx, span := s.tracer.Start(ctx, "billing.RegisterPaymentMethod")
	defer span.End()
	pm, err := s.vault.Register(ctx, in)
	recordError(span, err)
	return pm, err
}

func (s *service) GetPaymentMethod(ctx context.Context, token string) (*domain.PaymentMethod, error) {
	return s.vault.Resolve(ctx, token)
}

func (s *service) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	return s.vault.List(ctx, customerID)
}

func (s *service) RevokePaymentMethod(ctx context.Context, token string) error {
	return s.vault.Revoke(ctx, token)
}

func (s *service) GetCharge(ctx context.Context, chargeID string) (*domain.Charge, error) {
	return s.ledger.GetCharge(ctx, chargeID)
}

func (s *service) FraudAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.FraudAlert, error) {
	return s.ledger.FraudAlerts(ctx, filter)
}

func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
