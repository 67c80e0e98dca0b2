package webhook

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/queue"
	"github.com/acme/voice-dialer/internal/repository"
	"github.com/acme/voice-dialer/pkg/logger"
)

// Forwarder hands verified callbacks to the asynchronous consumer.
type Forwarder interface {
	PublishWebhook(ctx context.Context, msg queue.WebhookMessage) error
}

// Ingress verifies callbacks and forwards them without processing. The caller
// always acknowledges the provider regardless of the outcome.
type Ingress struct {
	secret    []byte
	forwarder Forwarder
	audit     repository.WebhookEventStore
	now       func() time.Time
	logger    *logger.Logger
}

// NewIngress constructs an ingress.
func NewIngress(secret string, forwarder Forwarder, audit repository.WebhookEventStore, log *logger.Logger) *Ingress {
	if log == nil {
		log = logger.NewNop()
	}
	return &Ingress{
		secret:    []byte(secret),
		forwarder: forwarder,
		audit:     audit,
		now:       time.Now,
		logger:    log,
	}
}

// Accept verifies signature and forwards body. Rejected and unforwardable
// callbacks are audited with their payload so they can be replayed.
func (i *Ingress) Accept(ctx context.Context, signature, eventID string, body []byte) domain.WebhookOutcome {
	receivedAt := i.now().UTC()
	callID, eventType := peek(body)
	log := i.logger.WithContext(ctx).With(zap.String("provider_call_id", callID), zap.String("type", eventType))

	if err := Verify(i.secret, body, signature); err != nil {
		log.Warn("webhook: rejected callback", zap.Error(err))
		i.record(ctx, domain.WebhookEvent{
			ProviderCallID: callID,
			Type:           eventType,
			Outcome:        domain.WebhookOutcomeRejected,
			Error:          err.Error(),
			Payload:        string(body),
			ReceivedAt:     receivedAt,
		})
		return domain.WebhookOutcomeRejected
	}

	err := i.forwarder.PublishWebhook(ctx, queue.WebhookMessage{
		EventID:        eventID,
		ProviderCallID: callID,
		Body:           body,
		ReceivedAt:     receivedAt,
	})
	if err != nil {
		log.Error("webhook: forward callback", zap.Error(err))
		i.record(ctx, domain.WebhookEvent{
			ProviderCallID: callID,
			Type:           eventType,
			Outcome:        domain.WebhookOutcomeFailed,
			Error:          err.Error(),
			Payload:        string(body),
			ReceivedAt:     receivedAt,
		})
		return domain.WebhookOutcomeFailed
	}
	return domain.WebhookOutcomeAccepted
}

func (i *Ingress) record(ctx context.Context, event domain.WebhookEvent) {
	if i.audit == nil {
		return
	}
	if err := i.audit.Append(ctx, event); err != nil {
		i.logger.WithContext(ctx).Warn("webhook: audit append", zap.Error(err))
	}
}

// peek extracts routing fields from a body that may not be valid.
func peek(body []byte) (callID, eventType string) {
	ev, err := Parse(body)
	if err != nil {
		return "", ""
	}
	callID = ev.Call.ID
	if callID == "" {
		callID = ev.Call.Metadata["attemptId"]
	}
	return callID, ev.Type
}
