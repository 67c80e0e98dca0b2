package callbacks

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/app"
	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/queue"
	"github.com/acme/voice-dialer/internal/webhook"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
	"github.com/acme/voice-dialer/pkg/logger"
)

const (
	maxHandleAttempts = 3
	retryBackoff      = 500 * time.Millisecond
)

// MessageReader is the subset of kafka.Reader the worker needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler applies one callback.
type Handler interface {
	Handle(ctx context.Context, d webhook.Delivery) (domain.WebhookOutcome, error)
}

// Worker consumes verified provider callbacks and runs them through the state machine.
type Worker struct {
	reader  MessageReader
	handler Handler
	logger  *logger.Logger
	backoff time.Duration
}

// New creates a callback worker reading the webhook topic.
func New(container *app.Container) *Worker {
	cfg := container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-webhooks"
	reader := container.Kafka.NewReader(cfg.Kafka.WebhookTopic, groupID)
	return NewWithReader(reader, container.StateMachine(), container.Logger.Named("callbacks"))
}

// NewWithReader builds a worker over an explicit reader.
func NewWithReader(reader MessageReader, handler Handler, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{reader: reader, handler: handler, logger: log, backoff: retryBackoff}
}

// Run processes callbacks until the context is cancelled. A bad message is
// logged and committed; it never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("callback worker: fetch", zap.Error(err))
			continue
		}

		w.process(ctx, msg)

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("callback worker: commit", zap.Error(err))
		}
	}
}

func (w *Worker) process(ctx context.Context, msg kafka.Message) {
	payload, err := queue.DecodeWebhook(msg.Value)
	if err != nil {
		w.logger.Error("callback worker: decode", zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}

	tracer := otel.Tracer("dialer.callbacks")
	sctx, span := tracer.Start(ctx, "callback.consume", trace.WithAttributes(
		attribute.String("call.id", payload.ProviderCallID),
		attribute.Int("partition", msg.Partition),
		attribute.Int64("offset", msg.Offset),
	))
	defer span.End()

	delivery := webhook.Delivery{EventID: payload.EventID, Body: payload.Body, ReceivedAt: payload.ReceivedAt}
	for attempt := 1; ; attempt++ {
		outcome, err := w.handler.Handle(sctx, delivery)
		if err == nil {
			span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
			return
		}
		span.RecordError(err)
		if apperrors.IsDataError(err) || attempt >= maxHandleAttempts {
			w.logger.Error("callback worker: giving up on callback",
				zap.String("provider_call_id", payload.ProviderCallID),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
		if !sleep(sctx, w.backoff<<(attempt-1)) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
