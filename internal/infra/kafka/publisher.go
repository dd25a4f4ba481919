package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// messageWriter is the part of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher writes ledger lifecycle events to a Kafka topic.
// Messages are keyed by transaction ID so each transaction's events stay ordered within a partition.
type EventPublisher struct {
	writer messageWriter
	logger *logger.Logger
}

// NewEventPublisher creates a publisher writing to topic on brokers
func NewEventPublisher(brokers []string, topic string, log *logger.Logger) *EventPublisher {
	log = log.WithComponent("kafka_publisher")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf(msg, args...))
		}),
	}

	return newEventPublisher(writer, log)
}

func newEventPublisher(writer messageWriter, log *logger.Logger) *EventPublisher {
	return &EventPublisher{writer: writer, logger: log}
}

// Publish implements ledger.EventPublisher
func (p *EventPublisher) Publish(ctx context.Context, event ledger.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.TransactionID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
		Time: event.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	p.logger.Debug("event published", "kind", event.Kind, "reference", event.Reference)
	return nil
}

// Close flushes pending messages and closes the writer
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
