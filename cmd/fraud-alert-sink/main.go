package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/twmb/franz-go/pkg/kgo"

	"policy-billing-engine/internal/adapters/analytics"
	"policy-billing-engine/internal/adapters/messaging/kafka"
	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/observability"
)

// fraud-alert-sink consumes fraud.alert records and stores them in ClickHouse.
// Offsets are committed only after a batch is stored; records that cannot be
// decoded go to the dead-letter topic.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		observability.SetupLogger("").Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.SetupLogger(cfg.App.Env)
	logger.Info("fraud alert sink starting", "env", cfg.App.Env, "topic", cfg.Kafka.AlertsTopic)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokers := strings.Split(cfg.Kafka.BootstrapServers, ",")

	dlqProducer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		logger.Error("failed to create Kafka producer for DLQ", "error", err)
		os.Exit(1)
	}
	defer dlqProducer.Close()

	store, err := analytics.Open(ctx, cfg.ClickHouse)
	if err != nil {
		logger.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close ClickHouse connection", "error", err)
		}
	}()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to prepare ClickHouse schema", "error", err)
		os.Exit(1)
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(cfg.Kafka.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Kafka.AlertsTopic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		logger.Error("failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	logger.Info("fraud alert sink is ready")

	for {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logger.Error("error reading from kafka", "topic", topic, "partition", partition, "error", err)
		})

		alerts, rejected := kafka.SplitAlertRecords(fetches.Records())
		for _, r := range rejected {
			logger.Warn("sending record to DLQ", "error_type", r.ErrorType, "error", r.Err,
				"partition", r.Record.Partition, "offset", r.Record.Offset)
			dlq := kafka.DLQRecord(cfg.Kafka.DLQTopic, r.Record, r.ErrorType, r.Err)
			if err := dlqProducer.ProduceSync(ctx, dlq).FirstErr(); err != nil {
				// Without the DLQ copy the offset must not move past this record.
				logger.Error("failed to write to DLQ, batch will be redelivered", "error", err)
				return
			}
		}

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, store.InsertAlerts(ctx, alerts)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(time.Minute),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Warn("ClickHouse insert failed, retrying", "error", err, "retry_in", next)
			}),
		)
		if err != nil {
			logger.Error("failed to store alerts, exiting without commit", "alerts", len(alerts), "error", err)
			return
		}
		if len(alerts) > 0 {
			logger.Info("alerts stored", "count", len(alerts))
		}

		if err := consumer.CommitUncommittedOffsets(ctx); err != nil {
			logger.Error("error committing offsets", "error", err)
		}
	}

	logger.Info("fraud alert sink stopping")
}
