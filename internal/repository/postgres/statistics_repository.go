package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
)

// CampaignStatisticsRepository implements repository.CampaignStatisticsRepository.
type CampaignStatisticsRepository struct {
	db *sqlx.DB
}

// NewCampaignStatisticsRepository builds the repository.
func NewCampaignStatisticsRepository(db *sqlx.DB) *CampaignStatisticsRepository {
	return &CampaignStatisticsRepository{db: db}
}

// Ensure ensures a row exists for the campaign.
func (r *CampaignStatisticsRepository) Ensure(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO campaign_statistics (campaign_id)
		VALUES ($1) ON CONFLICT (campaign_id) DO NOTHING`, campaignID)
	if err != nil {
		return fmt.Errorf("campaign stats: ensure: %w", err)
	}
	return nil
}

// Get retrieves statistics.
func (r *CampaignStatisticsRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	var stats domain.CampaignStats
	err := r.db.QueryRowxContext(ctx, `SELECT total_calls, completed_calls, failed_calls, in_progress_calls,
		voicemail_calls, no_answer_calls, busy_calls, compliance_blocks, total_cost, total_duration_sec
		FROM campaign_statistics WHERE campaign_id = $1`, campaignID).StructScan(&stats)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign stats: get: %w", err)
	}
	return &stats, nil
}

// ApplyDelta applies counter deltas atomically.
func (r *CampaignStatisticsRepository) ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	return applyDelta(ctx, r.db, campaignID, delta)
}

func applyDelta(ctx context.Context, exec sqlx.ExecerContext, campaignID uuid.UUID, delta repository.StatsDelta) error {
	_, err := exec.ExecContext(ctx, `UPDATE campaign_statistics SET
		total_calls = total_calls + $2,
		completed_calls = completed_calls + $3,
		failed_calls = failed_calls + $4,
		in_progress_calls = GREATEST(in_progress_calls + $5, 0),
		voicemail_calls = voicemail_calls + $6,
		no_answer_calls = no_answer_calls + $7,
		busy_calls = busy_calls + $8,
		compliance_blocks = compliance_blocks + $9,
		total_cost = total_cost + $10,
		total_duration_sec = total_duration_sec + $11,
		updated_at = NOW()
	WHERE campaign_id = $1`,
		campaignID,
		delta.TotalCallsDelta,
		delta.CompletedCallsDelta,
		delta.FailedCallsDelta,
		delta.InProgressCallsDelta,
		delta.VoicemailCallsDelta,
		delta.NoAnswerCallsDelta,
		delta.BusyCallsDelta,
		delta.ComplianceBlocksDelta,
		delta.CostDelta,
		delta.DurationDelta,
	)
	if err != nil {
		return fmt.Errorf("campaign stats: apply delta: %w", err)
	}
	return nil
}
