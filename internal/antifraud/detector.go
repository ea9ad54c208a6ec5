// Package antifraud evaluates fraud rules over an immutable snapshot of a
// customer's recent ledger entries.
//
// The detector keeps no counters of its own: every evaluation is recomputed
// from the window it is given, so the same window and candidate always yield
// the same alerts.
package antifraud

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/core/domain"
)

// Candidate is the charge attempt being evaluated.
type Candidate struct {
	CustomerID    string
	TransactionID string
	Amount        decimal.Decimal
	At            time.Time
}

type rule struct {
	name     string
	severity domain.Severity
	check    func(c Candidate, window []domain.LedgerEntry) (detail string, hit bool)
}

// Detector implements the repeated-failure, frequency and large-amount rules.
type Detector struct {
	cfg   config.AntiFraudConfig
	rules []rule
}

// NewDetector builds a detector from cfg.
func NewDetector(cfg config.AntiFraudConfig) *Detector {
	d := &Detector{cfg: cfg}
	d.rules = []rule{
		{name: domain.RuleRepeatedFailures, severity: domain.SeverityHigh, check: d.repeatedFailures},
		{name: domain.RuleFrequencyAnomaly, severity: domain.SeverityMedium, check: d.frequencyAnomaly},
		{name: domain.RuleLargeAmount, severity: domain.SeverityMedium, check: d.largeAmount},
	}
	return d
}

// Lookback is how far back the window passed to Evaluate must reach.
func (d *Detector) Lookback() time.Duration {
	failure := d.cfg.FailureWindow()
	if freq := d.cfg.FrequencyWindow(); freq > failure {
		return freq
	}
	return failure
}

// Evaluate runs every rule independently; a charge may trigger several.
func (d *Detector) Evaluate(c Candidate, window []domain.LedgerEntry) []domain.FraudAlert {
	var alerts []domain.FraudAlert
	for _, r := range d.rules {
		detail, hit := r.check(c, window)
		if !hit {
			continue
		}
		alerts = append(alerts, domain.FraudAlert{
			ID:             alertID(c.TransactionID, r.name),
			CustomerID:     c.CustomerID,
			TransactionRef: c.TransactionID,
			Severity:       r.severity,
			RuleTriggered:  r.name,
			Detail:         detail,
			CreatedAt:      c.At,
		})
	}
	return alerts
}

func (d *Detector) repeatedFailures(c Candidate, window []domain.LedgerEntry) (string, bool) {
	since := c.At.Add(-d.cfg.FailureWindow())
	failed := 0
	for _, e := range window {
		if e.Kind != domain.EntryCharge || e.Charge.CustomerID != c.CustomerID {
			continue
		}
		if e.Charge.Status == domain.ChargeStatusFailed && !e.Charge.CreatedAt.Before(since) && !e.Charge.CreatedAt.After(c.At) {
			failed++
		}
	}
	if failed < d.cfg.FailureThreshold {
		return "", false
	}
	return fmt.Sprintf("%d failed charges in %s", failed, d.cfg.FailureWindow()), true
}

// frequencyAnomaly counts recorded charges only, the same way repeatedFailures
// does; the candidate itself is not part of the history.
func (d *Detector) frequencyAnomaly(c Candidate, window []domain.LedgerEntry) (string, bool) {
	since := c.At.Add(-d.cfg.FrequencyWindow())
	attempts := 0
	for _, e := range window {
		if e.Kind != domain.EntryCharge || e.Charge.CustomerID != c.CustomerID {
			continue
		}
		if !e.Charge.CreatedAt.Before(since) && !e.Charge.CreatedAt.After(c.At) {
			attempts++
		}
	}
	if attempts < d.cfg.FrequencyThreshold {
		return "", false
	}
	return fmt.Sprintf("%d charges in %s", attempts, d.cfg.FrequencyWindow()), true
}

func (d *Detector) largeAmount(c Candidate, _ []domain.LedgerEntry) (string, bool) {
	threshold := decimal.NewFromFloat(d.cfg.AmountThreshold)
	if !c.Amount.GreaterThan(threshold) {
		return "", false
	}
	return fmt.Sprintf("amount %s exceeds %s", c.Amount, threshold), true
}

// alertID is derived from the charge and rule so re-evaluation is reproducible.
func alertID(transactionID, ruleName string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(transactionID+"/"+ruleName)).String()
}
