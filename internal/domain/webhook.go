package domain

import "time"

// WebhookOutcome records what happened to one provider callback.
type WebhookOutcome string

const (
	WebhookOutcomeAccepted  WebhookOutcome = "accepted"
	WebhookOutcomeProcessed WebhookOutcome = "processed"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeIgnored   WebhookOutcome = "ignored"
	WebhookOutcomeRejected  WebhookOutcome = "rejected"
	WebhookOutcomeFailed    WebhookOutcome = "failed"
)

// WebhookEvent is the append-only audit record of a provider callback.
type WebhookEvent struct {
	ProviderCallID string
	Type           string
	IdempotencyKey string
	Outcome        WebhookOutcome
	Error          string
	Payload        string
	ReceivedAt     time.Time
}
