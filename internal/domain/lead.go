package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus enumerates where a lead sits in the calling funnel.
type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "new"
	LeadStatusContacted   LeadStatus = "contacted"
	LeadStatusCalling     LeadStatus = "calling"
	LeadStatusQualified   LeadStatus = "qualified"
	LeadStatusCallback    LeadStatus = "callback"
	LeadStatusUnqualified LeadStatus = "unqualified"
)

// DialableLeadStatuses lists statuses the dialer may pick up.
var DialableLeadStatuses = []LeadStatus{LeadStatusCallback, LeadStatusNew, LeadStatusContacted}

// Lead is a dial target inside a campaign.
type Lead struct {
	ID                  uuid.UUID
	CampaignID          uuid.UUID
	AccountID           uuid.UUID
	AssignedUserID      *uuid.UUID
	PhoneNumber         string
	Timezone            string
	Status              LeadStatus
	PriorityScore       int
	AttemptCount        int
	DNCStatus           bool
	ConsentAt           *time.Time
	NextCallScheduledAt *time.Time
	LastCalledAt        *time.Time
	AppointmentAt       *time.Time
	QualificationScore  *float64
	Data                map[string]any
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// OutboundNumber is a caller-ID resource bound to a campaign.
type OutboundNumber struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	PhoneNumber   string
	IsActive      bool
	DailyCalls    int
	DailyLimit    int
	TotalCalls    int
	AnsweredCalls int
	HealthScore   float64
	CooldownUntil *time.Time
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

// Available reports whether the number can place a call at now.
func (n OutboundNumber) Available(now time.Time) bool {
	if !n.IsActive {
		return false
	}
	if n.DailyLimit > 0 && n.DailyCalls >= n.DailyLimit {
		return false
	}
	return n.CooldownUntil == nil || !n.CooldownUntil.After(now)
}
