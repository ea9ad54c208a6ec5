package domain

import "time"

// Severity is the fraud severity tier.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// Rules that can raise alerts.
const (
	RuleRepeatedFailures = "repeated_failures"
	RuleFrequencyAnomaly = "frequency_anomaly"
	RuleLargeAmount      = "large_amount"
)

// FraudAlert is an append-only observation attached to a charge attempt.
type FraudAlert struct {
	ID             string    `json:"alert_id"`
	CustomerID     string    `json:"customer_id"`
	TransactionRef string    `json:"transaction_ref"`
	Severity       Severity  `json:"severity"`
	RuleTriggered  string    `json:"rule_triggered"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AlertFilter narrows an admin alert query. Zero values match everything.
type AlertFilter struct {
	CustomerID string
	Since      time.Time
}

// Matches reports whether a satisfies the filter.
func (f AlertFilter) Matches(a FraudAlert) bool {
	if f.CustomerID != "" && a.CustomerID != f.CustomerID {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
