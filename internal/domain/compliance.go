package domain

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed         bool
	Reason          string
	BlockedUntil    *time.Time
	Score           int
	Violations      []string
	Recommendations []string
	Degraded        bool
	Timezone        string
	Jurisdiction    string
}

// ComplianceLog is the append-only record of one admission decision.
type ComplianceLog struct {
	ID              uuid.UUID
	LeadID          uuid.UUID
	CampaignID      uuid.UUID
	PhoneNumber     string
	Allowed         bool
	Reason          string
	BlockedUntil    *time.Time
	Score           int
	Violations      []string
	Recommendations []string
	Degraded        bool
	Error           string
	RulesVersion    string
	CheckedAt       time.Time
}
