package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"

	"policy-billing-engine/internal/adapters/messaging/kafka"
	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/observability"
)

func main() {
	defaults := config.Default().Kafka
	logger := observability.SetupLogger("development")

	var kafkaBrokers, dlqTopic string

	rootCmd := &cobra.Command{Use: "dlq-tool", Short: "Inspect and replay the fraud alert dead-letter topic", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVar(&kafkaBrokers, "brokers", defaults.BootstrapServers, "Kafka broker addresses")
	rootCmd.PersistentFlags().StringVar(&dlqTopic, "dlq-topic", defaults.DLQTopic, "DLQ topic name")

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "Show messages in the DLQ",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			logger.Info("viewing DLQ messages", "topic", dlqTopic, "limit", limit)

			client, err := kgo.NewClient(
				kgo.SeedBrokers(strings.Split(kafkaBrokers, ",")...),
				kgo.ConsumeTopics(dlqTopic),
				kgo.FetchMaxWait(5*time.Second),
				kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
			)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}
			defer client.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PARTITION:OFFSET\tKEY\tERROR_TYPE\tERROR_STRING")

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			count := 0
			for count < limit {
				fetches := client.PollFetches(ctx)
				if fetches.IsClientClosed() || ctx.Err() != nil || fetches.Empty() {
					break
				}
				fetches.EachRecord(func(record *kgo.Record) {
					if count >= limit {
						return
					}
					errorType, errorString := kafka.ErrorHeaders(record.Headers)
					fmt.Fprintf(w, "%d:%d\t%s\t%s\t%s\n", record.Partition, record.Offset, record.Key, errorType, errorString)
					count++
				})
			}
			return w.Flush()
		},
	}
	viewCmd.Flags().Int("limit", 10, "Number of messages to show")

	retryCmd := &cobra.Command{
		Use:   "retry [partition:offset]",
		Short: "Re-publish one DLQ message to the alerts topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetTopic, _ := cmd.Flags().GetString("target-topic")
			partition, offset, err := kafka.ParsePartitionOffset(args[0])
			if err != nil {
				return err
			}
			logger.Info("replaying message", "from_topic", dlqTopic, "partition", partition, "offset", offset, "to_topic", targetTopic)

			brokers := strings.Split(kafkaBrokers, ",")
			consumer, err := kgo.NewClient(
				kgo.SeedBrokers(brokers...),
				kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
					dlqTopic: {partition: kgo.NewOffset().At(offset)},
				}),
			)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}
			defer consumer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			fetches := consumer.PollRecords(ctx, 1)
			if err := fetches.Err(); err != nil {
				return fmt.Errorf("failed to read message: %w", err)
			}
			records := fetches.Records()
			if len(records) == 0 || records[0].Offset != offset {
				return fmt.Errorf("no message at %d:%d", partition, offset)
			}
			record := records[0]

			producer, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
			if err != nil {
				return fmt.Errorf("failed to create producer: %w", err)
			}
			defer producer.Close()

			replay := &kgo.Record{
				Topic:   targetTopic,
				Key:     record.Key,
				Value:   record.Value,
				Headers: []kgo.RecordHeader{{Key: kafka.HeaderEventType, Value: []byte(kafka.EventFraudAlert)}},
			}
			if err := producer.ProduceSync(ctx, replay).FirstErr(); err != nil {
				return fmt.Errorf("failed to re-publish message: %w", err)
			}
			logger.Info("message replayed")
			return nil
		},
	}
	retryCmd.Flags().String("target-topic", defaults.AlertsTopic, "Topic to replay the message to")

	rootCmd.AddCommand(viewCmd, retryCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
