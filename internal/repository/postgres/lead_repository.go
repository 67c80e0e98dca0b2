package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
)

const leadColumns = `l.id, l.campaign_id, l.account_id, l.assigned_user_id, l.phone_number, l.timezone, l.status,
	l.priority_score, l.attempt_count, l.dnc_status, l.consent_at, l.next_call_scheduled_at, l.last_called_at,
	l.appointment_at, l.qualification_score, l.data, l.created_at, l.updated_at`

const (
	dialableStatuses = `('new', 'contacted', 'callback')`
	liveStatuses     = `('initiated', 'ringing', 'connected')`
)

// LeadRepository implements repository.LeadRepository.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository builds the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// BulkInsert imports leads in one transaction.
func (r *LeadRepository) BulkInsert(ctx context.Context, leads []domain.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, lead := range leads {
			data, err := json.Marshal(nonNilMap(lead.Data))
			if err != nil {
				return fmt.Errorf("lead repo: marshal data: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO leads (
				id, campaign_id, account_id, assigned_user_id, phone_number, timezone, status, priority_score,
				attempt_count, dnc_status, consent_at, next_call_scheduled_at, data, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
				lead.ID, lead.CampaignID, lead.AccountID, lead.AssignedUserID, lead.PhoneNumber, lead.Timezone,
				lead.Status, lead.PriorityScore, lead.AttemptCount, lead.DNCStatus, lead.ConsentAt,
				lead.NextCallScheduledAt, data, lead.CreatedAt,
			); err != nil {
				return fmt.Errorf("lead repo: insert: %w", err)
			}
		}
		return nil
	})
}

// Get fetches a lead.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	var record leadRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+leadColumns+` FROM leads l WHERE l.id = $1`, id).StructScan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}
	lead, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// ListEligible returns leads the dialer may call now, callbacks first, then new,
// then contacted, by priority and age.
func (r *LeadRepository) ListEligible(ctx context.Context, campaignID uuid.UUID, maxAttempts int, now time.Time, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT `+leadColumns+` FROM leads l
		WHERE l.campaign_id = $1
		  AND l.status IN `+dialableStatuses+`
		  AND l.dnc_status = FALSE
		  AND (l.next_call_scheduled_at IS NULL OR l.next_call_scheduled_at <= $2)
		  AND l.attempt_count < $3
		  AND NOT EXISTS (
		      SELECT 1 FROM call_attempts a WHERE a.lead_id = l.id AND a.status IN `+liveStatuses+`
		  )
		ORDER BY CASE l.status WHEN 'callback' THEN 0 WHEN 'new' THEN 1 ELSE 2 END,
		         l.priority_score DESC, l.created_at ASC
		LIMIT $4`, campaignID, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("lead repo: list eligible: %w", err)
	}
	return scanLeads(rows)
}

// CountRemaining counts leads that are mid-call or may still be dialed.
func (r *LeadRepository) CountRemaining(ctx context.Context, campaignID uuid.UUID, maxAttempts int) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM leads
		WHERE campaign_id = $1
		  AND (status = 'calling' OR (status IN `+dialableStatuses+` AND dnc_status = FALSE AND attempt_count < $2))`,
		campaignID, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("lead repo: count remaining: %w", err)
	}
	return n, nil
}

// Defer pushes the next eligible call time.
func (r *LeadRepository) Defer(ctx context.Context, id uuid.UUID, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET next_call_scheduled_at = $2, updated_at = NOW() WHERE id = $1`, id, until)
	if err != nil {
		return fmt.Errorf("lead repo: defer: %w", err)
	}
	return expectRows(res, "lead repo")
}

// UpdateStatus sets status and next call time.
func (r *LeadRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus, nextCall *time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET status = $2, next_call_scheduled_at = $3, updated_at = NOW() WHERE id = $1`,
		id, status, nextCall)
	if err != nil {
		return fmt.Errorf("lead repo: update status: %w", err)
	}
	return expectRows(res, "lead repo")
}

// MergeData shallow-merges captured fields into the lead data document.
func (r *LeadRepository) MergeData(ctx context.Context, id uuid.UUID, data map[string]any) error {
	raw, err := json.Marshal(nonNilMap(data))
	if err != nil {
		return fmt.Errorf("lead repo: marshal data: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET data = data || $2::jsonb, updated_at = NOW() WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("lead repo: merge data: %w", err)
	}
	return expectRows(res, "lead repo")
}

// SetAppointment books an appointment and qualifies the lead.
func (r *LeadRepository) SetAppointment(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET appointment_at = $2, status = 'qualified',
		next_call_scheduled_at = NULL, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("lead repo: set appointment: %w", err)
	}
	return expectRows(res, "lead repo")
}

// ApplyQualification stores the analysis score and optionally moves the lead.
func (r *LeadRepository) ApplyQualification(ctx context.Context, id uuid.UUID, score float64, status *domain.LeadStatus) error {
	var next *string
	if status != nil {
		s := string(*status)
		next = &s
	}
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET qualification_score = $2,
		status = COALESCE($3::text, status), updated_at = NOW() WHERE id = $1`, id, score, next)
	if err != nil {
		return fmt.Errorf("lead repo: apply qualification: %w", err)
	}
	return expectRows(res, "lead repo")
}

// ListDueCallbacks returns callback leads of active campaigns whose time has come.
func (r *LeadRepository) ListDueCallbacks(ctx context.Context, now time.Time, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT `+leadColumns+` FROM leads l
		JOIN campaigns c ON c.id = l.campaign_id
		WHERE c.status = 'active'
		  AND l.status = 'callback'
		  AND l.next_call_scheduled_at <= $1
		  AND NOT EXISTS (
		      SELECT 1 FROM call_attempts a WHERE a.lead_id = l.id AND a.status IN `+liveStatuses+`
		  )
		ORDER BY l.next_call_scheduled_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("lead repo: list due callbacks: %w", err)
	}
	return scanLeads(rows)
}

func scanLeads(rows *sqlx.Rows) ([]domain.Lead, error) {
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		var record leadRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		lead, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return leads, nil
}

type leadRecord struct {
	ID                  uuid.UUID       `db:"id"`
	CampaignID          uuid.UUID       `db:"campaign_id"`
	AccountID           uuid.UUID       `db:"account_id"`
	AssignedUserID      uuid.NullUUID   `db:"assigned_user_id"`
	PhoneNumber         string          `db:"phone_number"`
	Timezone            string          `db:"timezone"`
	Status              string          `db:"status"`
	PriorityScore       int             `db:"priority_score"`
	AttemptCount        int             `db:"attempt_count"`
	DNCStatus           bool            `db:"dnc_status"`
	ConsentAt           sql.NullTime    `db:"consent_at"`
	NextCallScheduledAt sql.NullTime    `db:"next_call_scheduled_at"`
	LastCalledAt        sql.NullTime    `db:"last_called_at"`
	AppointmentAt       sql.NullTime    `db:"appointment_at"`
	QualificationScore  sql.NullFloat64 `db:"qualification_score"`
	Data                []byte          `db:"data"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

func (r leadRecord) toDomain() (domain.Lead, error) {
	lead := domain.Lead{
		ID:                  r.ID,
		CampaignID:          r.CampaignID,
		AccountID:           r.AccountID,
		PhoneNumber:         r.PhoneNumber,
		Timezone:            r.Timezone,
		Status:              domain.LeadStatus(r.Status),
		PriorityScore:       r.PriorityScore,
		AttemptCount:        r.AttemptCount,
		DNCStatus:           r.DNCStatus,
		ConsentAt:           nullTime(r.ConsentAt),
		NextCallScheduledAt: nullTime(r.NextCallScheduledAt),
		LastCalledAt:        nullTime(r.LastCalledAt),
		AppointmentAt:       nullTime(r.AppointmentAt),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.AssignedUserID.Valid {
		id := r.AssignedUserID.UUID
		lead.AssignedUserID = &id
	}
	if r.QualificationScore.Valid {
		score := r.QualificationScore.Float64
		lead.QualificationScore = &score
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &lead.Data); err != nil {
			return domain.Lead{}, fmt.Errorf("lead repo: decode data: %w", err)
		}
	}
	return lead, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
