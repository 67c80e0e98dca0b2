package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
)

const numberColumns = `id, campaign_id, phone_number, is_active, daily_calls, daily_limit, total_calls,
	answered_calls, health_score, cooldown_until, last_used_at, created_at`

// NumberRepository implements repository.NumberRepository.
type NumberRepository struct {
	db *sqlx.DB
}

// NewNumberRepository builds the repository.
func NewNumberRepository(db *sqlx.DB) *NumberRepository {
	return &NumberRepository{db: db}
}

// Create registers an outbound number for a campaign.
func (r *NumberRepository) Create(ctx context.Context, n *domain.OutboundNumber) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO outbound_numbers (
		id, campaign_id, phone_number, is_active, daily_limit, health_score, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.CampaignID, n.PhoneNumber, n.IsActive, n.DailyLimit, n.HealthScore, n.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("number repo: %w: number already registered", repository.ErrConflict)
		}
		return fmt.Errorf("number repo: insert: %w", err)
	}
	return nil
}

// Get fetches a number by id.
func (r *NumberRepository) Get(ctx context.Context, id uuid.UUID) (*domain.OutboundNumber, error) {
	var record numberRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+numberColumns+` FROM outbound_numbers WHERE id = $1`, id).StructScan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("number repo: get: %w", err)
	}
	n := record.toDomain()
	return &n, nil
}

// ListByCampaign returns every number of a campaign.
func (r *NumberRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.OutboundNumber, error) {
	var records []numberRecord
	if err := r.db.SelectContext(ctx, &records, `SELECT `+numberColumns+` FROM outbound_numbers
		WHERE campaign_id = $1 ORDER BY created_at ASC`, campaignID); err != nil {
		return nil, fmt.Errorf("number repo: list: %w", err)
	}
	return toNumbers(records), nil
}

// ListAvailable returns dialable numbers, healthiest and least used first.
func (r *NumberRepository) ListAvailable(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]domain.OutboundNumber, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []numberRecord
	if err := r.db.SelectContext(ctx, &records, `SELECT `+numberColumns+` FROM outbound_numbers
		WHERE campaign_id = $1
		  AND is_active
		  AND (daily_limit <= 0 OR daily_calls < daily_limit)
		  AND (cooldown_until IS NULL OR cooldown_until <= $2)
		ORDER BY health_score DESC, daily_calls ASC, total_calls ASC
		LIMIT $3`, campaignID, now, limit); err != nil {
		return nil, fmt.Errorf("number repo: list available: %w", err)
	}
	return toNumbers(records), nil
}

// ResetDaily zeroes the daily counters of every number.
func (r *NumberRepository) ResetDaily(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE outbound_numbers SET daily_calls = 0 WHERE daily_calls > 0`)
	if err != nil {
		return 0, fmt.Errorf("number repo: reset daily: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("number repo: rows affected: %w", err)
	}
	return n, nil
}

func toNumbers(records []numberRecord) []domain.OutboundNumber {
	out := make([]domain.OutboundNumber, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.toDomain())
	}
	return out
}

type numberRecord struct {
	ID            uuid.UUID    `db:"id"`
	CampaignID    uuid.UUID    `db:"campaign_id"`
	PhoneNumber   string       `db:"phone_number"`
	IsActive      bool         `db:"is_active"`
	DailyCalls    int          `db:"daily_calls"`
	DailyLimit    int          `db:"daily_limit"`
	TotalCalls    int          `db:"total_calls"`
	AnsweredCalls int          `db:"answered_calls"`
	HealthScore   float64      `db:"health_score"`
	CooldownUntil sql.NullTime `db:"cooldown_until"`
	LastUsedAt    sql.NullTime `db:"last_used_at"`
	CreatedAt     time.Time    `db:"created_at"`
}

func (r numberRecord) toDomain() domain.OutboundNumber {
	return domain.OutboundNumber{
		ID:            r.ID,
		CampaignID:    r.CampaignID,
		PhoneNumber:   r.PhoneNumber,
		IsActive:      r.IsActive,
		DailyCalls:    r.DailyCalls,
		DailyLimit:    r.DailyLimit,
		TotalCalls:    r.TotalCalls,
		AnsweredCalls: r.AnsweredCalls,
		HealthScore:   r.HealthScore,
		CooldownUntil: nullTime(r.CooldownUntil),
		LastUsedAt:    nullTime(r.LastUsedAt),
		CreatedAt:     r.CreatedAt,
	}
}
