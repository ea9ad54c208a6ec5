package mock

import (
	"context"
	"log/slog"
	"sync"

	"policy-billing-engine/internal/core/domain"
)

// Broker is a MessageBroker that only logs events. It is used when Kafka is disabled.
type Broker struct {
	logger *slog.Logger

	mu     sync.Mutex
	counts map[string]int
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{logger: logger, counts: make(map[string]int)}
}

func (b *Broker) Close() {}

func (b *Broker) PublishChargeSettled(_ context.Context, charge domain.Charge) error {
	b.count("charge")
	b.logger.Debug("[MOCK] charge event", "transaction_id", charge.ID, "status", charge.Status, "amount", charge.Amount, "currency", charge.Currency)
	return nil
}

func (b *Broker) PublishRefundApplied(_ context.Context, refund domain.RefundRecord, status domain.ChargeStatus) error {
	b.count("refund")
	b.logger.Debug("[MOCK] refund event", "refund_id", refund.ID, "transaction_id", refund.ChargeRef, "status", status)
	return nil
}

func (b *Broker) PublishFraudAlert(_ context.Context, alert domain.FraudAlert) error {
	b.count("fraud_alert")
	b.logger.Debug("[MOCK] fraud alert", "alert_id", alert.ID, "rule", alert.RuleTriggered, "severity", alert.Severity)
	return nil
}

// Published reports how many events of kind (charge, refund, fraud_alert) were seen.
func (b *Broker) Published(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[kind]
}

func (b *Broker) count(kind string) {
	b.mu.Lock()
	b.counts[kind]++
	b.mu.Unlock()
}
