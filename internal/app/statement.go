package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"policy-billing-engine/internal/core/domain"
)

// Statement folds the customer's ledger over [from, to]. Balances are kept
// per currency: settled charges add, refunds subtract, failed charges are
// listed but leave the balance unchanged. A zero to means now.
func (s *service) Statement(ctx context.Context, customerID string, from, to time.Time) (*domain.Statement, error) {
	ctx, span := s.tracer.Start(ctx, "billing.Statement")
	defer span.End()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer_id is required", domain.ErrInvalidRequest)
	}
	if to.IsZero() {
		to = s.clock.Now()
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from is after to", domain.ErrInvalidRequest)
	}

	entries, err := s.ledger.Window(ctx, customerID, time.Time{})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	st := &domain.Statement{
		CustomerID: customerID,
		From:       from,
		To:         to,
		Opening:    make(map[string]decimal.Decimal),
		Lines:      []domain.StatementLine{},
		Totals:     make(map[string]domain.StatementTotals),
	}
	balance := make(map[string]decimal.Decimal)

	for _, e := range entries {
		at := e.At()
		if at.After(to) {
			break
		}
		line, delta := statementLine(e)
		balance[line.Currency] = balance[line.Currency].Add(delta)
		if at.Before(from) {
			st.Opening[line.Currency] = balance[line.Currency]
			continue
		}

		line.RunningBalance = balance[line.Currency]
		st.Lines = append(st.Lines, line)

		totals := st.Totals[line.Currency]
		switch {
		case e.Kind == domain.EntryRefund:
			totals.Refunded = totals.Refunded.Add(line.Amount)
		case line.Status == domain.ChargeStatusFailed:
			totals.Failed++
		default:
			totals.Charged = totals.Charged.Add(line.Amount)
		}
		totals.Net = totals.Charged.Sub(totals.Refunded)
		st.Totals[line.Currency] = totals
	}
	return st, nil
}

// statementLine renders one entry and returns its effect on the balance.
func statementLine(e domain.LedgerEntry) (domain.StatementLine, decimal.Decimal) {
	if e.Kind == domain.EntryRefund {
		r := e.Refund
		return domain.StatementLine{
			At:        r.CreatedAt,
			Kind:      domain.EntryRefund,
			Reference: r.ID,
			ChargeRef: r.ChargeRef,
			Amount:    r.Amount,
			Currency:  r.Currency,
		}, r.Amount.Neg()
	}

	c := e.Charge
	line := domain.StatementLine{
		At:        c.CreatedAt,
		Kind:      domain.EntryCharge,
		Reference: c.ID,
		Status:    c.Status,
		Amount:    c.Amount,
		Currency:  c.Currency,
	}
	if c.Status == domain.ChargeStatusFailed {
		return line, decimal.Zero
	}
	return line, c.Amount
}
