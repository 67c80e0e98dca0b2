package realtime

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/queue"
	"github.com/acme/voice-dialer/pkg/logger"
)

// MessageReader is the subset of kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds state-change events from the bus into the hub.
type Consumer struct {
	reader MessageReader
	hub    *Hub
	logger *logger.Logger
}

// NewConsumer builds a consumer over reader.
func NewConsumer(reader MessageReader, hub *Hub, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{reader: reader, hub: hub, logger: log}
}

// Run broadcasts events until ctx ends. Undecodable records are skipped.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	tracer := otel.Tracer("dialer.realtime")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("realtime consumer: fetch", zap.Error(err))
			continue
		}

		event, err := queue.DecodeEvent(msg.Value)
		if err != nil {
			c.logger.Warn("realtime consumer: decode", zap.Int64("offset", msg.Offset), zap.Error(err))
		} else {
			sctx, span := tracer.Start(ctx, "realtime.consume")
			span.SetAttributes(attribute.String("event.type", string(event.Type)), attribute.Int64("offset", msg.Offset))
			c.hub.Broadcast(sctx, event)
			span.End()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("realtime consumer: commit", zap.Error(err))
		}
	}
}
