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

const campaignColumns = `id, account_id, name, description, time_zone, max_attempts_per_lead, agent_id, status,
	created_at, updated_at, started_at, completed_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (` + campaignColumns + `) VALUES (
		:id, :account_id, :name, :description, :time_zone, :max_attempts_per_lead, :agent_id, :status,
		:created_at, :updated_at, :started_at, :completed_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	var record campaignRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id).StructScan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// Update updates campaign metadata.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		description = :description,
		status = :status,
		time_zone = :time_zone,
		max_attempts_per_lead = :max_attempts_per_lead,
		agent_id = :agent_id,
		updated_at = :updated_at,
		started_at = :started_at,
		completed_at = :completed_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign))
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}
	return expectRows(res, "campaign repo")
}

// UpdateStatus toggles campaign status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET status = $1, updated_at = NOW(),
		completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	return expectRows(res, "campaign repo")
}

// List returns campaigns with keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sqlx.Rows
		err  error
	)
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id > $1 ORDER BY id ASC LIMIT $2`, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id ASC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	return scanCampaigns(rows)
}

// ListByStatus returns campaigns filtered by status, least recently touched first.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	return scanCampaigns(rows)
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

func campaignParams(c *domain.Campaign) map[string]any {
	return map[string]any{
		"id":                    c.ID,
		"account_id":            c.AccountID,
		"name":                  c.Name,
		"description":           c.Description,
		"time_zone":             c.TimeZone,
		"max_attempts_per_lead": c.MaxAttemptsPerLead,
		"agent_id":              c.AgentID,
		"status":                c.Status,
		"created_at":            c.CreatedAt,
		"updated_at":            c.UpdatedAt,
		"started_at":            c.StartedAt,
		"completed_at":          c.CompletedAt,
	}
}

type campaignRecord struct {
	ID                 uuid.UUID      `db:"id"`
	AccountID          uuid.UUID      `db:"account_id"`
	Name               string         `db:"name"`
	Description        sql.NullString `db:"description"`
	TimeZone           string         `db:"time_zone"`
	MaxAttemptsPerLead int            `db:"max_attempts_per_lead"`
	AgentID            string         `db:"agent_id"`
	Status             string         `db:"status"`
	CreatedAt          sql.NullTime   `db:"created_at"`
	UpdatedAt          sql.NullTime   `db:"updated_at"`
	StartedAt          sql.NullTime   `db:"started_at"`
	CompletedAt        sql.NullTime   `db:"completed_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	return domain.Campaign{
		ID:                 r.ID,
		AccountID:          r.AccountID,
		Name:               r.Name,
		Description:        r.Description.String,
		TimeZone:           r.TimeZone,
		MaxAttemptsPerLead: r.MaxAttemptsPerLead,
		AgentID:            r.AgentID,
		Status:             domain.CampaignStatus(r.Status),
		CreatedAt:          r.CreatedAt.Time,
		UpdatedAt:          r.UpdatedAt.Time,
		StartedAt:          nullTime(r.StartedAt),
		CompletedAt:        nullTime(r.CompletedAt),
	}
}
