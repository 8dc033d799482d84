package events

import (
	"context"
	"encoding/json"
	"time"
)

type EventType string

const (
	EventMessagePersisted  EventType = "message.persisted"
	EventMessageTranslated EventType = "message.translated"
	EventStatsUpdated      EventType = "conversation.statsUpdated"
)

type Envelope struct {
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher emits fire-and-forget notifications consumed by the transport
// layer. Implementations must never block the pipeline on delivery.
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, aggregateType, aggregateID string, payload interface{}) error
}

// NopPublisher discards events, for tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, eventType EventType, aggregateType, aggregateID string, payload interface{}) error {
	return nil
}
