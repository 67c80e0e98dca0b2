package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates lifecycle stages for a dial attempt.
type AttemptStatus string

const (
	AttemptStatusInitiated AttemptStatus = "initiated"
	AttemptStatusRinging   AttemptStatus = "ringing"
	AttemptStatusConnected AttemptStatus = "connected"
	AttemptStatusCompleted AttemptStatus = "completed"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusBusy      AttemptStatus = "busy"
	AttemptStatusNoAnswer  AttemptStatus = "no_answer"
	AttemptStatusVoicemail AttemptStatus = "voicemail"
)

// LiveAttemptStatuses are the non-terminal statuses.
var LiveAttemptStatuses = []AttemptStatus{AttemptStatusInitiated, AttemptStatusRinging, AttemptStatusConnected}

// Terminal reports whether the attempt has finished.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptStatusInitiated, AttemptStatusRinging, AttemptStatusConnected:
		return false
	}
	return true
}

// Rank orders statuses along the lifecycle; transitions only move forward.
func (s AttemptStatus) Rank() int {
	switch s {
	case AttemptStatusInitiated:
		return 0
	case AttemptStatusRinging:
		return 1
	case AttemptStatusConnected:
		return 2
	}
	return 3
}

// StatusesBelow returns the statuses an attempt may leave to reach target.
func StatusesBelow(target AttemptStatus) []AttemptStatus {
	var out []AttemptStatus
	for _, s := range LiveAttemptStatuses {
		if s.Rank() < target.Rank() {
			out = append(out, s)
		}
	}
	return out
}

// CallAttempt is one dial attempt for a lead.
type CallAttempt struct {
	ID              uuid.UUID
	LeadID          uuid.UUID
	CampaignID      uuid.UUID
	AccountID       uuid.UUID
	NumberID        uuid.UUID
	ProviderCallID  *string
	AttemptNumber   int
	Status          AttemptStatus
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int
	Cost            float64
	EndedReason     string
	Transcript      string
	RecordingURL    string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TranscriptSegment is a partial transcript chunk streamed during a call.
type TranscriptSegment struct {
	ProviderCallID string
	Role           string
	Text           string
	Final          bool
	ReceivedAt     time.Time
}
