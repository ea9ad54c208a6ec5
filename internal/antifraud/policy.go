package antifraud

import (
	"strings"

	"policy-billing-engine/internal/core/domain"
)

// Policy decides whether alerts stop settlement. The zero value never blocks.
type Policy struct {
	blockAt domain.Severity
}

// NewPolicy parses block_on_severity: none, low, medium or high.
func NewPolicy(blockOnSeverity string) (Policy, error) {
	switch s := domain.Severity(strings.ToLower(strings.TrimSpace(blockOnSeverity))); s {
	case "", "none":
		return Policy{}, nil
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
		return Policy{blockAt: s}, nil
	default:
		return Policy{}, &UnknownSeverityError{Value: blockOnSeverity}
	}
}

// UnknownSeverityError reports a bad block_on_severity value.
type UnknownSeverityError struct{ Value string }

func (e *UnknownSeverityError) Error() string {
	return "unknown block_on_severity value: " + e.Value
}

// Blocks returns the highest severity and the rules at or above the blocking
// tier, and whether settlement must be stopped.
func (p Policy) Blocks(alerts []domain.FraudAlert) (domain.Severity, []string, bool) {
	if p.blockAt == "" {
		return "", nil, false
	}
	var top domain.Severity
	var rules []string
	for _, a := range alerts {
		if a.Severity.Rank() < p.blockAt.Rank() {
			continue
		}
		rules = append(rules, a.RuleTriggered)
		if a.Severity.Rank() > top.Rank() {
			top = a.Severity
		}
	}
	return top, rules, len(rules) > 0
}
