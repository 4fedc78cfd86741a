package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"offerwall/reconciler-service/internal/model"
)

// Sender hands one notification to the mail transport.
type Sender interface {
	Send(ctx context.Context, job model.NotificationJob) error
}

// OutboxMessage is the record the mail transport consumes from Kafka.
type OutboxMessage struct {
	JobID       string    `json:"jobId"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Recipients  []string  `json:"recipients"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// KafkaSender publishes jobs to the email outbox topic.
type KafkaSender struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaProducer creates a SyncProducer that waits for all in-sync replicas.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("start kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaSender wraps an existing producer.
func NewKafkaSender(producer sarama.SyncProducer, topic string) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic}
}

// Send writes the job to the outbox keyed by job ID, so redeliveries of the
// same job land on the same partition.
func (k *KafkaSender) Send(ctx context.Context, job model.NotificationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(OutboxMessage{
		JobID:       job.ID,
		Subject:     job.Subject,
		Body:        job.RenderedBody,
		Recipients:  job.Recipients,
		ScheduledAt: job.ScheduledAt,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox message: %w", err)
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(job.ID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("write outbox message: %w", err)
	}

	slog.Debug("outbox message written", "jobId", job.ID, "partition", partition, "offset", offset)
	return nil
}

// Close closes the producer.
func (k *KafkaSender) Close() error {
	return k.producer.Close()
}

// LogSender only logs. Used when no broker is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the job as if it had been delivered.
func (l LogSender) Send(_ context.Context, job model.NotificationJob) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dry-run delivery",
		"jobId", job.ID,
		"subject", job.Subject,
		"recipients", job.Recipients,
		"bytes", len(job.RenderedBody),
	)
	return nil
}
