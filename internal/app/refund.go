package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"policy-billing-engine/internal/core/domain"
	"policy-billing-engine/internal/ledger"
	"policy-billing-engine/internal/observability"
)

// Refund returns part or all of a settled charge. The remaining balance is
// read and updated under the owning customer's lock, so concurrent refunds
// can never exceed the charge amount.
func (s *service) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	ctx, span := s.tracer.Start(ctx, "billing.Refund", trace.WithAttributes(
		attribute.String("transaction.id", req.ChargeRef),
	))
	defer span.End()

	req.ChargeRef = strings.TrimSpace(req.ChargeRef)
	if req.ChargeRef == "" {
		err := fmt.Errorf("%w: charge_ref is required", domain.ErrInvalidRequest)
		recordError(span, err)
		return nil, err
	}

	if !domain.HasValidScale(req.Amount) {
		err := fmt.Errorf("%w: amount has more than %d decimal places", domain.ErrInvalidRequest, domain.AmountScale)
		recordError(span, err)
		return nil, err
	}

	customerID, err := s.ledger.CustomerOf(ctx, req.ChargeRef)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	var result *domain.RefundResult
	err = s.ledger.Do(ctx, customerID, func(ctx context.Context, tx *ledger.Tx) error {
		charge, ok := tx.Charge(req.ChargeRef)
		if !ok {
			return domain.ErrChargeNotFound
		}
		if !charge.Status.Refundable() {
			return &domain.RefundError{Code: domain.RefundInvalidState, ChargeRef: charge.ID, Status: charge.Status}
		}
		remaining := charge.Remaining()
		if !req.Amount.IsPositive() || req.Amount.GreaterThan(remaining) {
			return &domain.RefundError{Code: domain.RefundExceedsBalance, ChargeRef: charge.ID, Status: charge.Status, Remaining: remaining}
		}

		now := s.clock.Now()
		updated := charge.Clone()
		updated.RefundedAmount = charge.RefundedAmount.Add(req.Amount)
		updated.UpdatedAt = now
		if req.Amount.Equal(remaining) {
			updated.Status = domain.ChargeStatusRefunded
		} else {
			updated.Status = domain.ChargeStatusPartiallyRefunded
		}

		refund := domain.RefundRecord{
			ID:         uuid.NewString(),
			ChargeRef:  charge.ID,
			CustomerID: customerID,
			Amount:     req.Amount,
			Currency:   charge.Currency,
			Reason:     strings.TrimSpace(req.Reason),
			CreatedAt:  now,
		}
		if err := tx.AppendRefund(ctx, refund, updated); err != nil {
			return err
		}
		result = &domain.RefundResult{Refund: refund, NewChargeStatus: updated.Status}
		return nil
	})
	if err != nil {
		recordError(span, err)
		observability.RefundsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	observability.RefundsTotal.WithLabelValues(string(result.NewChargeStatus)).Inc()
	s.logger.Info("refund applied",
		"customer_id", customerID, "transaction_id", req.ChargeRef, "refund_id", result.Refund.ID, "status", result.NewChargeStatus)
	if err := s.broker.PublishRefundApplied(context.WithoutCancel(ctx), result.Refund, result.NewChargeStatus); err != nil {
		s.logger.Warn("failed to publish refund event", "refund_id", result.Refund.ID, "error", err)
	}
	return result, nil
}
