package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a state change published on the internal bus.
type EventType string

const (
	EventCallDispatched        EventType = "call_dispatched"
	EventCallDispatchFailed    EventType = "call_dispatch_failed"
	EventComplianceBlocked     EventType = "compliance_blocked"
	EventCallStarted           EventType = "call_started"
	EventCallEnded             EventType = "call_ended"
	EventSpeechUpdate          EventType = "speech_update"
	EventCallHang              EventType = "call_hang"
	EventCallError             EventType = "call_error"
	EventTranscriptSegment     EventType = "transcript_segment"
	EventCallbackScheduled     EventType = "callback_scheduled"
	EventTransferRequested     EventType = "transfer_requested"
	EventLeadUpdated           EventType = "lead_updated"
	EventAppointmentSet        EventType = "appointment_set"
	EventAnalysisCompleted     EventType = "analysis_completed"
	EventJobProgress           EventType = "job_progress"
	EventCampaignCompleted     EventType = "campaign_completed"
	EventInterventionRequested EventType = "intervention_requested"
	EventAlert                 EventType = "alert"
	EventConnectionMetrics     EventType = "connection_metrics"
)

// Severity ranks alerts for routing.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Alert kinds raised by the dialer itself.
const (
	AlertComplianceDegraded  = "compliance_degraded"
	AlertDispatchFailed      = "dispatch_failed"
	AlertProviderUnavailable = "provider_unavailable"
	AlertStaleCallExpired    = "stale_call_expired"
)

// Event is a scoped state change. Scope fields decide who may see it.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	AccountID  uuid.UUID      `json:"account_id"`
	CampaignID *uuid.UUID     `json:"campaign_id,omitempty"`
	CallID     string         `json:"call_id,omitempty"`
	UserID     *uuid.UUID     `json:"user_id,omitempty"`
	Severity   Severity       `json:"severity,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent stamps a fresh event.
func NewEvent(t EventType, accountID uuid.UUID, payload map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		AccountID:  accountID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// NewAlert builds an operator alert. Alerts reach rooms by severity; the
// campaign and call ids travel in the payload for context only.
func NewAlert(accountID uuid.UUID, severity Severity, kind, message string, payload map[string]any) Event {
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload["kind"] = kind
	payload["message"] = message
	e := NewEvent(EventAlert, accountID, payload)
	e.Severity = severity
	return e
}

// ForCampaign scopes the event to a campaign.
func (e Event) ForCampaign(id uuid.UUID) Event {
	e.CampaignID = &id
	return e
}

// ForCall scopes the event to a call.
func (e Event) ForCall(id string) Event {
	e.CallID = id
	return e
}

// ScopeKey is the partitioning key used on the bus.
func (e Event) ScopeKey() string {
	switch {
	case e.CallID != "":
		return e.CallID
	case e.CampaignID != nil:
		return e.CampaignID.String()
	default:
		return e.AccountID.String()
	}
}
