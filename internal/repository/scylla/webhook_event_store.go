package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/voice-dialer/internal/domain"
)

// unknownCall partitions callbacks that arrive without a provider call id.
const unknownCall = "unknown"

// WebhookEventStore keeps the audit trail of provider callbacks.
type WebhookEventStore struct {
	session *gocql.Session
}

// NewWebhookEventStore creates a new webhook event store.
func NewWebhookEventStore(session *gocql.Session) *WebhookEventStore {
	return &WebhookEventStore{session: session}
}

// Append writes one callback with its processing outcome.
func (s *WebhookEventStore) Append(ctx context.Context, event domain.WebhookEvent) error {
	callID := event.ProviderCallID
	if callID == "" {
		callID = unknownCall
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if err := s.session.Query(`INSERT INTO webhook_events_by_call (provider_call_id, received_at, idempotency_key, event_type, outcome, error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		callID, event.ReceivedAt, event.IdempotencyKey, event.Type, string(event.Outcome), event.Error, event.Payload,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("webhook store: append: %w", err)
	}
	return nil
}

// ListByCall lists callbacks for a call, newest first, with pagination.
func (s *WebhookEventStore) ListByCall(ctx context.Context, providerCallID string, limit int, pagingState []byte) ([]domain.WebhookEvent, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT received_at, idempotency_key, event_type, outcome, error, payload
		FROM webhook_events_by_call WHERE provider_call_id = ?`, providerCallID).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	events := make([]domain.WebhookEvent, 0, limit)

	var (
		receivedAt time.Time
		key        string
		eventType  string
		outcome    string
		errText    string
		payload    string
	)
	for iter.Scan(&receivedAt, &key, &eventType, &outcome, &errText, &payload) {
		events = append(events, domain.WebhookEvent{
			ProviderCallID: providerCallID,
			Type:           eventType,
			IdempotencyKey: key,
			Outcome:        domain.WebhookOutcome(outcome),
			Error:          errText,
			Payload:        payload,
			ReceivedAt:     receivedAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("webhook store: iter close: %w", err)
	}

	return events, iter.PageState(), nil
}
