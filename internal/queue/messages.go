package queue

import "time"

// WebhookMessage carries a verified provider callback from ingress to the state machine.
type WebhookMessage struct {
	EventID        string    `json:"event_id,omitempty"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	Body           []byte    `json:"body"`
	ReceivedAt     time.Time `json:"received_at"`
}
