package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
)

// activeBlockScan bounds how far back ActiveBlock looks per phone number.
const activeBlockScan = 50

// ComplianceLogStore persists admission decisions keyed by phone number.
type ComplianceLogStore struct {
	session *gocql.Session
}

// NewComplianceLogStore creates a new compliance log store.
func NewComplianceLogStore(session *gocql.Session) *ComplianceLogStore {
	return &ComplianceLogStore{session: session}
}

// Append writes one decision.
func (s *ComplianceLogStore) Append(ctx context.Context, entry domain.ComplianceLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CheckedAt.IsZero() {
		entry.CheckedAt = time.Now().UTC()
	}
	if err := s.session.Query(`INSERT INTO compliance_log_by_phone (phone_number, checked_at, id, lead_id, campaign_id, allowed,
		reason, blocked_until, score, violations, recommendations, degraded, error, rules_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.PhoneNumber, entry.CheckedAt, entry.ID.String(), entry.LeadID.String(), entry.CampaignID.String(), entry.Allowed,
		entry.Reason, entry.BlockedUntil, entry.Score, entry.Violations, entry.Recommendations, entry.Degraded, entry.Error, entry.RulesVersion,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("compliance log: append: %w", err)
	}
	return nil
}

// ActiveBlock returns the most recent denied decision whose block has not expired.
func (s *ComplianceLogStore) ActiveBlock(ctx context.Context, phone string, now time.Time) (*domain.ComplianceLog, error) {
	iter := s.session.Query(`SELECT checked_at, id, lead_id, campaign_id, allowed, reason, blocked_until, score
		FROM compliance_log_by_phone WHERE phone_number = ? LIMIT ?`, phone, activeBlockScan).WithContext(ctx).Iter()

	var (
		checkedAt    time.Time
		id           gocql.UUID
		leadID       gocql.UUID
		campaignID   gocql.UUID
		allowed      bool
		reason       string
		blockedUntil *time.Time
		score        int
	)

	var found *domain.ComplianceLog
	for iter.Scan(&checkedAt, &id, &leadID, &campaignID, &allowed, &reason, &blockedUntil, &score) {
		if allowed || blockedUntil == nil || blockedUntil.IsZero() || !blockedUntil.After(now) {
			continue
		}
		until := *blockedUntil
		found = &domain.ComplianceLog{
			ID:           uuid.UUID(id),
			LeadID:       uuid.UUID(leadID),
			CampaignID:   uuid.UUID(campaignID),
			PhoneNumber:  phone,
			Reason:       reason,
			BlockedUntil: &until,
			Score:        score,
			CheckedAt:    checkedAt,
		}
		break
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("compliance log: active block: %w", err)
	}
	return found, nil
}
