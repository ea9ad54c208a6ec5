package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"policy-billing-engine/internal/antifraud"
	"policy-billing-engine/internal/core/domain"
	"policy-billing-engine/internal/ledger"
	"policy-billing-engine/internal/observability"
)

// Charge debits a stored payment method. A replayed idempotency key returns
// the recorded charge without touching the gateway. Fraud blocks and
// exhausted settlement retries return the failed charge together with the error.
func (s *service) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	ctx, span := s.tracer.Start(ctx, "billing.Charge", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.String("idempotency.key", req.IdempotencyKey),
	))
	defer span.End()

	if err := normalizeChargeRequest(&req); err != nil {
		recordError(span, err)
		return nil, err
	}

	var result *domain.ChargeResult
	var outcomeErr error
	err := s.ledger.Do(ctx, req.CustomerID, func(ctx context.Context, tx *ledger.Tx) error {
		if prior, ok := tx.ChargeByIdempotencyKey(req.IdempotencyKey); ok {
			result = &domain.ChargeResult{Charge: prior, Alerts: tx.Alerts(prior.ID), Replayed: true}
			return nil
		}

		pm, err := s.vault.ResolveForCharge(ctx, req.CustomerID, req.PaymentToken)
		if err != nil {
			return err
		}
		if err := s.checkLimits(req.Amount); err != nil {
			return err
		}

		now := s.clock.Now()
		charge := domain.Charge{
			ID:             uuid.NewString(),
			CustomerID:     req.CustomerID,
			PaymentToken:   pm.Token,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Status:         domain.ChargeStatusPending,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}

		window := tx.Window(now.Add(-s.detector.Lookback()))
		alerts := s.detector.Evaluate(antifraud.Candidate{
			CustomerID:    req.CustomerID,
			TransactionID: charge.ID,
			Amount:        req.Amount,
			At:            now,
		}, window)
		for _, a := range alerts {
			charge.FraudAlerts = append(charge.FraudAlerts, a.ID)
		}

		outcomeErr = s.settle(ctx, &charge, alerts)
		charge.UpdatedAt = s.clock.Now()

		if err := tx.AppendCharge(ctx, charge, alerts); err != nil {
			outcomeErr = nil
			return err
		}
		result = &domain.ChargeResult{Charge: charge.Clone(), Alerts: alerts}
		return nil
	})
	if err != nil {
		recordError(span, err)
		observability.ChargesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	span.SetAttributes(
		attribute.String("transaction.id", result.Charge.ID),
		attribute.String("charge.status", string(result.Charge.Status)),
		attribute.Bool("charge.replayed", result.Replayed),
	)
	if result.Replayed {
		observability.ChargesTotal.WithLabelValues("replayed").Inc()
		return result, nil
	}

	observability.ChargesTotal.WithLabelValues(string(result.Charge.Status)).Inc()
	s.publishCharge(context.WithoutCancel(ctx), result)
	recordError(span, outcomeErr)
	return result, outcomeErr
}

// settle moves charge out of pending, either by the fraud policy or by the gateway.
func (s *service) settle(ctx context.Context, charge *domain.Charge, alerts []domain.FraudAlert) error {
	if severity, rules, blocked := s.policy.Blocks(alerts); blocked {
		charge.Status = domain.ChargeStatusFailed
		charge.FailureCode = domain.FailureFraudBlocked
		s.logger.Warn("charge blocked by fraud policy",
			"customer_id", charge.CustomerID, "transaction_id", charge.ID, "severity", severity, "rules", rules)
		return &domain.FraudBlockError{TransactionID: charge.ID, Severity: severity, Rules: rules}
	}

	outcome, attempts, err := s.settlement.Settle(ctx, domain.SettlementRequest{
		TransactionID:  charge.ID,
		Token:          charge.PaymentToken,
		Amount:         charge.Amount,
		Currency:       charge.Currency,
		IdempotencyKey: charge.IdempotencyKey,
	})
	switch {
	case err != nil:
		charge.Status = domain.ChargeStatusFailed
		charge.FailureCode = domain.FailureGatewayTimeout
		s.logger.Error("settlement failed after retries",
			"customer_id", charge.CustomerID, "transaction_id", charge.ID, "attempts", attempts, "error", err)
		var timeoutErr *domain.GatewayTimeoutError
		if !errors.As(err, &timeoutErr) {
			err = &domain.GatewayTimeoutError{TransactionID: charge.ID, Attempts: attempts, Err: err}
		}
		return err
	case outcome == domain.SettlementApproved:
		charge.Status = domain.ChargeStatusSuccess
	default:
		charge.Status = domain.ChargeStatusFailed
		charge.FailureCode = domain.FailureDeclined
	}
	s.logger.Info("charge settled",
		"customer_id", charge.CustomerID, "transaction_id", charge.ID, "status", charge.Status, "attempts", attempts)
	return nil
}

func (s *service) checkLimits(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(s.minAmount) || amount.GreaterThan(s.maxAmount) {
		return &domain.LimitExceededError{Amount: amount, Min: s.minAmount, Max: s.maxAmount}
	}
	return nil
}

// publishCharge emits events after the ledger append. Failures are logged only;
// the ledger stays authoritative.
func (s *service) publishCharge(ctx context.Context, result *domain.ChargeResult) {
	for _, a := range result.Alerts {
		observability.FraudAlertsTotal.WithLabelValues(a.RuleTriggered, string(a.Severity)).Inc()
		if err := s.broker.PublishFraudAlert(ctx, a); err != nil {
			s.logger.Warn("failed to publish fraud alert", "alert_id", a.ID, "error", err)
		}
	}
	if err := s.broker.PublishChargeSettled(ctx, result.Charge); err != nil {
		s.logger.Warn("failed to publish charge event", "transaction_id", result.Charge.ID, "error", err)
	}
}

func normalizeChargeRequest(req *domain.ChargeRequest) error {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PaymentToken = strings.TrimSpace(req.PaymentToken)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	switch {
	case req.IdempotencyKey == "":
		return domain.ErrIdempotencyKeyRequired
	case req.CustomerID == "":
		return fmt.Errorf("%w: customer_id is required", domain.ErrInvalidRequest)
	case req.PaymentToken == "":
		return fmt.Errorf("%w: payment_token is required", domain.ErrInvalidRequest)
	case !isCurrencyCode(req.Currency):
		return fmt.Errorf("%w: currency must be a three-letter code", domain.ErrInvalidRequest)
	case !domain.HasValidScale(req.Amount):
		return fmt.Errorf("%w: amount has more than %d decimal places", domain.ErrInvalidRequest, domain.AmountScale)
	}
	return nil
}

func isCurrencyCode(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}
