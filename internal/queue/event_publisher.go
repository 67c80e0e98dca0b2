package queue

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/acme/voice-dialer/internal/domain"
)

// EventPublisher publishes state-change events for the realtime fan-out.
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher constructs an event publisher for the given topic.
func NewEventPublisher(k *Kafka, topic string) *EventPublisher {
	return &EventPublisher{writer: k.NewWriter(topic)}
}

// Publish emits an event keyed by its narrowest scope.
func (p *EventPublisher) Publish(ctx context.Context, event domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event publisher: marshal event: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(event.ScopeKey()),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

// DecodeEvent parses an event record.
func DecodeEvent(value []byte) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return event, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}
