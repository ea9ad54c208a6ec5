// Package analytics stores fraud alerts in ClickHouse for reporting.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/core/domain"
)

// ReplacingMergeTree collapses redelivered alerts sharing the sort key.
const createAlertsTable = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
	alert_id        String,
	customer_id     String,
	transaction_ref String,
	severity        LowCardinality(String),
	rule_triggered  LowCardinality(String),
	detail          String,
	created_at      DateTime64(3, 'UTC'),
	ingested_at     DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree
ORDER BY (customer_id, created_at, alert_id)`

// AlertStore writes and queries the fraud_alerts table.
type AlertStore struct {
	conn driver.Conn
}

// Open connects to ClickHouse and checks the connection.
func Open(ctx context.Context, cfg config.ClickHouseConfig) (*AlertStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("clickhouse address is not configured")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return &AlertStore{conn: conn}, nil
}

func (s *AlertStore) Close() error { return s.conn.Close() }

func (s *AlertStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createAlertsTable); err != nil {
		return fmt.Errorf("failed to create fraud_alerts table: %w", err)
	}
	return nil
}

// InsertAlerts writes alerts as a single batch.
func (s *AlertStore) InsertAlerts(ctx context.Context, alerts []domain.FraudAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO fraud_alerts
		(alert_id, customer_id, transaction_ref, severity, rule_triggered, detail, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, a := range alerts {
		err := batch.Append(a.ID, a.CustomerID, a.TransactionRef, string(a.Severity), a.RuleTriggered, a.Detail, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append alert %s: %w", a.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// AlertQuery filters RecentAlerts. Empty fields do not filter.
type AlertQuery struct {
	Severity   domain.Severity
	CustomerID string
	Since      time.Time
	Limit      int
}

// RecentAlerts returns matching alerts, newest first.
func (s *AlertStore) RecentAlerts(ctx context.Context, q AlertQuery) ([]domain.FraudAlert, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT alert_id, customer_id, transaction_ref, severity, rule_triggered, detail, created_at
		FROM fraud_alerts FINAL
		WHERE created_at >= ? AND (? = '' OR severity = ?) AND (? = '' OR customer_id = ?)
		ORDER BY created_at DESC
		LIMIT ?`,
		q.Since, string(q.Severity), string(q.Severity), q.CustomerID, q.CustomerID, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.FraudAlert
	for rows.Next() {
		var a domain.FraudAlert
		var severity string
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.TransactionRef, &severity, &a.RuleTriggered, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Severity = domain.Severity(severity)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CustomerAlertCount aggregates alerts per customer.
type CustomerAlertCount struct {
	CustomerID string
	Alerts     uint64
	High       uint64
	LastAlert  time.Time
}

// TopCustomers ranks customers by alert count since the given time.
func (s *AlertStore) TopCustomers(ctx context.Context, since time.Time, limit int) ([]CustomerAlertCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.Query(ctx, `
		SELECT customer_id, count() AS alerts, countIf(severity = 'high') AS high, max(created_at) AS last_alert
		FROM fraud_alerts FINAL
		WHERE created_at >= ?
		GROUP BY customer_id
		ORDER BY alerts DESC, high DESC, customer_id
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top customers: %w", err)
	}
	defer rows.Close()

	var out []CustomerAlertCount
	for rows.Next() {
		var c CustomerAlertCount
		if err := rows.Scan(&c.CustomerID, &c.Alerts, &c.High, &c.LastAlert); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
