package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"policy-billing-engine/internal/core/domain"
)

// Repository implements the ledger and payment method ports on PostgreSQL.
// Money columns are NUMERIC and travel as text to keep exact decimals.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository instance.
// Accepts a DSN (Data Source Name) to connect to.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Let's check that the connection to the database actually works.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Pool exposes the connection pool for migrations and health checks.
func (r *Repository) Pool() *pgxpool.Pool { return r.pool }

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

const chargeColumns = `id, customer_id, payment_token, amount::text, currency, status, failure_code,
	refunded_amount::text, fraud_alerts, idempotency_key, created_at, updated_at`

func scanCharge(row pgx.Row) (domain.Charge, error) {
	var c domain.Charge
	var amount, refunded string
	err := row.Scan(&c.ID, &c.CustomerID, &c.PaymentToken, &amount, &c.Currency, &c.Status, &c.FailureCode,
		&refunded, &c.FraudAlerts, &c.IdempotencyKey, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return c, err
	}
	c.RefundedAmount, err = decimal.NewFromString(refunded)
	return c, err
}

// AppendCharge inserts the charge and its alerts in one transaction.
func (r *Repository) AppendCharge(ctx context.Context, c domain.Charge, alerts []domain.FraudAlert) error {
	fraudAlerts := c.FraudAlerts
	if fraudAlerts == nil {
		fraudAlerts = []string{}
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO charges
			    (id, customer_id, payment_token, amount, currency, status, failure_code,
			     refunded_amount, fraud_alerts, idempotency_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8::numeric, $9, $10, $11, $12)`,
			c.ID, c.CustomerID, c.PaymentToken, c.Amount.String(), c.Currency, c.Status, c.FailureCode,
			c.RefundedAmount.String(), fraudAlerts, c.IdempotencyKey, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert charge: %w", err)
		}

		batch := &pgx.Batch{}
		for _, a := range alerts {
			batch.Queue(`
				INSERT INTO fraud_alerts (id, customer_id, transaction_ref, severity, rule_triggered, detail, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				a.ID, a.CustomerID, a.TransactionRef, a.Severity, a.RuleTriggered, a.Detail, a.CreatedAt,
			)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert fraud alerts: %w", err)
			}
		}
		return nil
	})
}

// AppendRefund updates the charge and inserts the refund in one transaction.
func (r *Repository) AppendRefund(ctx context.Context, refund domain.RefundRecord, c domain.Charge) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE charges SET status = $1, refunded_amount = $2::numeric, updated_at = $3
			WHERE id = $4 AND customer_id = $5`,
			c.Status, c.RefundedAmount.String(), c.UpdatedAt, c.ID, c.CustomerID,
		)
		if err != nil {
			return fmt.Errorf("failed to update charge: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return domain.ErrChargeNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO refunds (id, charge_id, customer_id, amount, currency, reason, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
			refund.ID, refund.ChargeRef, refund.CustomerID, refund.Amount.String(), refund.Currency, refund.Reason, refund.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert refund: %w", err)
		}
		return nil
	})
}

func (r *Repository) LoadLedger(ctx context.Context, customerID string) (domain.CustomerLedger, error) {
	ledger := domain.CustomerLedger{CustomerID: customerID}

	rows, err := r.pool.Query(ctx, `SELECT `+chargeColumns+` FROM charges WHERE customer_id = $1 ORDER BY created_at, id`, customerID)
	if err != nil {
		return ledger, fmt.Errorf("failed to query charges: %w", err)
	}
	ledger.Charges, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Charge, error) {
		return scanCharge(row)
	})
	if err != nil {
		return ledger, fmt.Errorf("failed to scan charges: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT id, charge_id, customer_id, amount::text, currency, reason, created_at
		FROM refunds WHERE customer_id = $1 ORDER BY created_at, id`, customerID)
	if err != nil {
		return ledger, fmt.Errorf("failed to query refunds: %w", err)
	}
	ledger.Refunds, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RefundRecord, error) {
		var rf domain.RefundRecord
		var amount string
		if err := row.Scan(&rf.ID, &rf.ChargeRef, &rf.CustomerID, &amount, &rf.Currency, &rf.Reason, &rf.CreatedAt); err != nil {
			return rf, err
		}
		var err error
		rf.Amount, err = decimal.NewFromString(amount)
		return rf, err
	})
	if err != nil {
		return ledger, fmt.Errorf("failed to scan refunds: %w", err)
	}

	ledger.Alerts, err = r.ListFraudAlerts(ctx, domain.AlertFilter{CustomerID: customerID})
	return ledger, err
}

func (r *Repository) ChargeOwner(ctx context.Context, chargeID string) (string, error) {
	var owner string
	err := r.pool.QueryRow(ctx, `SELECT customer_id FROM charges WHERE id = $1`, chargeID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrChargeNotFound
	}
	return owner, err
}

func (r *Repository) ListFraudAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.FraudAlert, error) {
	var customer *string
	if filter.CustomerID != "" {
		customer = &filter.CustomerID
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, transaction_ref, severity, rule_triggered, detail, created_at
		FROM fraud_alerts
		WHERE ($1::text IS NULL OR customer_id = $1) AND created_at >= $2
		ORDER BY created_at, id`, customer, filter.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to query fraud alerts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.FraudAlert, error) {
		var a domain.FraudAlert
		err := row.Scan(&a.ID, &a.CustomerID, &a.TransactionRef, &a.Severity, &a.RuleTriggered, &a.Detail, &a.CreatedAt)
		return a, err
	})
}

func (r *Repository) SavePaymentMethod(ctx context.Context, pm domain.PaymentMethod) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_methods (token, masked_number, expiry_month, expiry_year, owner_customer_id, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pm.Token, pm.MaskedNumber, pm.ExpiryMonth, pm.ExpiryYear, pm.OwnerCustomerID, pm.Revoked, pm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	return nil
}

const methodColumns = `token, masked_number, expiry_month, expiry_year, owner_customer_id, revoked, created_at`

func scanMethod(row pgx.Row) (domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	err := row.Scan(&pm.Token, &pm.MaskedNumber, &pm.ExpiryMonth, &pm.ExpiryYear, &pm.OwnerCustomerID, &pm.Revoked, &pm.CreatedAt)
	return pm, err
}

func (r *Repository) GetPaymentMethod(ctx context.Context, token string) (domain.PaymentMethod, error) {
	pm, err := scanMethod(r.pool.QueryRow(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return pm, domain.ErrPaymentMethodNotFound
	}
	return pm, err
}

func (r *Repository) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+methodColumns+` FROM payment_methods
		WHERE owner_customer_id = $1 ORDER BY created_at, token`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PaymentMethod, error) {
		return scanMethod(row)
	})
}

func (r *Repository) RevokePaymentMethod(ctx context.Context, token string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payment_methods SET revoked = TRUE WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to revoke payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentMethodNotFound
	}
	return nil
}
