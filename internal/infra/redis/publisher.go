package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// DefaultEventsChannel is the pub/sub channel transaction events go to
const DefaultEventsChannel = "fundflow:transaction_events"

// EventPublisher publishes ledger lifecycle events on a Redis pub/sub channel
type EventPublisher struct {
	client  *redis.Client
	channel string
	logger  *logger.Logger
}

// NewEventPublisher creates a publisher for channel, or DefaultEventsChannel when empty
func NewEventPublisher(client *redis.Client, channel string, log *logger.Logger) *EventPublisher {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &EventPublisher{
		client:  client,
		channel: channel,
		logger:  log.WithComponent("event_publisher"),
	}
}

// Publish implements ledger.EventPublisher
func (p *EventPublisher) Publish(ctx context.Context, event ledger.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published",
		"kind", event.Kind,
		"reference", event.Reference,
		"receivers", receivers,
	)
	return nil
}
