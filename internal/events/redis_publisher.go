package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meeshy/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher publishes envelopes to per-aggregate pub/sub channels. The
// socket layer (out of process) fans them out to connected clients.
type RedisPublisher struct {
	client *goredis.Client
	log    *logger.Logger
}

func NewRedisPublisher(client *goredis.Client, log *logger.Logger) *RedisPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisPublisher{client: client, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, eventType EventType, aggregateType, aggregateID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	envelope := Envelope{
		EventType:     string(eventType),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
		Payload:       body,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	channel := fmt.Sprintf("channel:%s:%s", aggregateType, aggregateID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.log.Logger.Warn("event publish failed",
			zap.String("channel", channel),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return err
	}
	return nil
}
