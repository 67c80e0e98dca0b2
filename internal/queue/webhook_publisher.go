package queue

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// WebhookPublisher hands verified callbacks to the webhook consumer.
type WebhookPublisher struct {
	writer *kafka.Writer
}

// NewWebhookPublisher constructs a webhook publisher for the given topic.
func NewWebhookPublisher(k *Kafka, topic string) *WebhookPublisher {
	return &WebhookPublisher{writer: k.NewWriter(topic)}
}

// PublishWebhook writes the callback keyed by provider call id.
func (p *WebhookPublisher) PublishWebhook(ctx context.Context, msg WebhookMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(msg.ProviderCallID),
		Value: value,
		Time:  msg.ReceivedAt,
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("webhook publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *WebhookPublisher) Close() error {
	return p.writer.Close()
}

// DecodeWebhook parses a webhook record.
func DecodeWebhook(value []byte) (WebhookMessage, error) {
	var msg WebhookMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return msg, fmt.Errorf("decode webhook: %w", err)
	}
	return msg, nil
}
