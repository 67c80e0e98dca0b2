package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Campaign models an outbound calling effort owned by an account.
type Campaign struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	Name               string
	Description        string
	TimeZone           string
	BusinessHours      []BusinessHourWindow
	MaxAttemptsPerLead int
	AgentID            string
	Status             CampaignStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// Dialable reports whether the dialer should consider the campaign at all.
func (c *Campaign) Dialable() bool {
	return c.Status == CampaignStatusActive && c.AgentID != ""
}

// BusinessHourWindow captures the allowed calling window per day of week.
type BusinessHourWindow struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// CampaignStats aggregates campaign call counters.
type CampaignStats struct {
	TotalCalls       int64   `db:"total_calls"`
	CompletedCalls   int64   `db:"completed_calls"`
	FailedCalls      int64   `db:"failed_calls"`
	InProgressCalls  int64   `db:"in_progress_calls"`
	VoicemailCalls   int64   `db:"voicemail_calls"`
	NoAnswerCalls    int64   `db:"no_answer_calls"`
	BusyCalls        int64   `db:"busy_calls"`
	ComplianceBlocks int64   `db:"compliance_blocks"`
	TotalCost        float64 `db:"total_cost"`
	TotalDurationSec int64   `db:"total_duration_sec"`
}
