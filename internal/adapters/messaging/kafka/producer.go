package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"policy-billing-engine/internal/core/domain"
)

// Broker is an implementation of the MessageBroker port for Kafka.
// Billing events go to topic, fraud alerts to alertsTopic; both are keyed by
// customer so one customer's events stay ordered within a partition.
type Broker struct {
	client      *kgo.Client
	topic       string
	alertsTopic string
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewBroker creates a new Kafka broker instance.
func NewBroker(bootstrapServers []string, topic, alertsTopic string, logger *slog.Logger) (*Broker, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(bootstrapServers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(10 * time.Second),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	// Checking the connection
	if err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
	}

	return &Broker{
		client:      client,
		topic:       topic,
		alertsTopic: alertsTopic,
		logger:      logger,
	}, nil
}

func (b *Broker) PublishChargeSettled(ctx context.Context, c domain.Charge) error {
	return b.produce(ctx, b.topic, EventChargeSettled, c.CustomerID, ChargeEvent{
		TransactionID:  c.ID,
		CustomerID:     c.CustomerID,
		Status:         c.Status,
		FailureCode:    c.FailureCode,
		Amount:         c.Amount,
		Currency:       c.Currency,
		FraudAlerts:    c.FraudAlerts,
		IdempotencyKey: c.IdempotencyKey,
		CreatedAt:      c.CreatedAt,
	})
}

func (b *Broker) PublishRefundApplied(ctx context.Context, r domain.RefundRecord, status domain.ChargeStatus) error {
	return b.produce(ctx, b.topic, EventRefundApplied, r.CustomerID, RefundEvent{
		RefundID:        r.ID,
		TransactionID:   r.ChargeRef,
		CustomerID:      r.CustomerID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Reason:          r.Reason,
		NewChargeStatus: status,
		CreatedAt:       r.CreatedAt,
	})
}

func (b *Broker) PublishFraudAlert(ctx context.Context, alert domain.FraudAlert) error {
	return b.produce(ctx, b.alertsTopic, EventFraudAlert, alert.CustomerID, alert)
}

// produce sends a record asynchronously; delivery failures are logged by the callback.
func (b *Broker) produce(ctx context.Context, topic, eventType, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	record := &kgo.Record{
		Topic:   topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: []kgo.RecordHeader{{Key: HeaderEventType, Value: []byte(eventType)}},
	}

	b.wg.Add(1)
	b.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		defer b.wg.Done()
		if err != nil {
			b.logger.Error("failed to deliver message to kafka", "topic", r.Topic, "event_type", eventType, "error", err)
		} else {
			b.logger.Debug("message delivered to kafka", "topic", r.Topic, "partition", r.Partition, "offset", r.Offset)
		}
	})
	return nil
}

// Close gracefully stops the producer.
func (b *Broker) Close() {
	b.logger.Info("waiting for kafka deliveries to finish...")
	b.wg.Wait()
	b.client.Close()
	b.logger.Info("kafka client stopped")
}
