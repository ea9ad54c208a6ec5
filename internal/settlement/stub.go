package settlement

import (
	"context"
	"sync"

	"policy-billing-engine/internal/core/domain"
)

// DecideFunc chooses the outcome of a single authorization attempt.
type DecideFunc func(req domain.SettlementRequest) domain.SettlementOutcome

// SandboxDecision approves everything except amounts ending in .51 (declined)
// and .52 (timeout), so local runs can exercise failure paths.
func SandboxDecision(req domain.SettlementRequest) domain.SettlementOutcome {
	cents := req.Amount.Shift(2).Truncate(0).IntPart() % 100
	switch cents {
	case 51:
		return domain.SettlementDeclined
	case 52:
		return domain.SettlementTimeout
	default:
		return domain.SettlementApproved
	}
}

// Stub is an in-process gateway. Like a real processor it remembers the final
// verdict for each idempotency key and repeats it on duplicate requests.
type Stub struct {
	decide DecideFunc

	mu      sync.Mutex
	verdict map[string]domain.SettlementOutcome
	calls   map[string]int
}

func NewStub(decide DecideFunc) *Stub {
	if decide == nil {
		decide = SandboxDecision
	}
	return &Stub{
		decide:  decide,
		verdict: make(map[string]domain.SettlementOutcome),
		calls:   make(map[string]int),
	}
}

func (s *Stub) Authorize(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.IdempotencyKey]++
	if v, ok := s.verdict[req.IdempotencyKey]; ok {
		return v, nil
	}
	outcome := s.decide(req)
	if outcome != domain.SettlementTimeout {
		s.verdict[req.IdempotencyKey] = outcome
	}
	return outcome, nil
}

// Calls reports how many attempts were made with the given idempotency key.
func (s *Stub) Calls(idempotencyKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[idempotencyKey]
}

// Settled reports how many distinct keys reached a final verdict.
func (s *Stub) Settled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.verdict)
}
