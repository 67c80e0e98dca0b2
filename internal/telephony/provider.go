package telephony

import (
	"context"
	"time"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

// ErrCallNotFound is returned when the provider has no record of a call.
var ErrCallNotFound = apperrors.Wrap(apperrors.ErrNotFound, "telephony: call not found")

// CallRequest describes an outbound call for the voice provider.
type CallRequest struct {
	To       string            `json:"to"`
	From     string            `json:"from"`
	AgentID  string            `json:"agentId"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CallInfo is the provider's view of a call.
type CallInfo struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	EndedReason     string     `json:"endedReason,omitempty"`
	DurationSeconds int        `json:"duration,omitempty"`
	Cost            float64    `json:"cost,omitempty"`
	Transcript      string     `json:"transcript,omitempty"`
	RecordingURL    string     `json:"recordingUrl,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// Ended reports whether the provider considers the call finished.
func (c CallInfo) Ended() bool {
	return c.Status == "ended" || c.EndedAt != nil
}

// Provider abstracts the voice AI integration.
type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
	GetCall(ctx context.Context, providerCallID string) (*CallInfo, error)
}
