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

const attemptColumns = `id, lead_id, campaign_id, account_id, number_id, provider_call_id, attempt_number, status,
	started_at, ended_at, duration_seconds, cost, ended_reason, transcript, recording_url, error, created_at, updated_at`

// AttemptRepository implements repository.AttemptRepository. The single live
// attempt per lead is guarded by the insert predicate and a partial unique index.
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository builds the repository.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// CreateForDispatch inserts an initiated attempt when the lead has none live and
// books lead, number and campaign counters in the same transaction.
func (r *AttemptRepository) CreateForDispatch(ctx context.Context, attempt *domain.CallAttempt, cooldownUntil time.Time) error {
	now := attempt.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		attempt.CreatedAt = now
	}

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var attemptNumber int
		err := tx.QueryRowxContext(ctx, `INSERT INTO call_attempts (
				id, lead_id, campaign_id, account_id, number_id, attempt_number, status, created_at, updated_at
			)
			SELECT $1, l.id, $3, $4, $5, l.attempt_count + 1, 'initiated', $6, $6
			  FROM leads l
			 WHERE l.id = $2
			   AND NOT EXISTS (
			       SELECT 1 FROM call_attempts a WHERE a.lead_id = l.id AND a.status IN `+liveStatuses+`
			   )
			RETURNING attempt_number`,
			attempt.ID, attempt.LeadID, attempt.CampaignID, attempt.AccountID, attempt.NumberID, now,
		).Scan(&attemptNumber)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
				return fmt.Errorf("attempt repo: %w: lead %s already has a live attempt", repository.ErrConflict, attempt.LeadID)
			}
			return fmt.Errorf("attempt repo: insert: %w", err)
		}
		attempt.AttemptNumber = attemptNumber
		attempt.Status = domain.AttemptStatusInitiated

		if _, err := tx.ExecContext(ctx, `UPDATE leads SET attempt_count = attempt_count + 1, last_called_at = $2,
			updated_at = $2 WHERE id = $1`, attempt.LeadID, now); err != nil {
			return fmt.Errorf("attempt repo: bump lead: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE outbound_numbers SET daily_calls = daily_calls + 1,
			total_calls = total_calls + 1, last_used_at = $2, cooldown_until = $3 WHERE id = $1`,
			attempt.NumberID, now, cooldownUntil); err != nil {
			return fmt.Errorf("attempt repo: bump number: %w", err)
		}
		return applyDelta(ctx, tx, attempt.CampaignID, repository.StatsDelta{TotalCallsDelta: 1, InProgressCallsDelta: 1})
	})
	return err
}

// MarkDispatched stores the provider call id and moves the lead to calling.
func (r *AttemptRepository) MarkDispatched(ctx context.Context, attemptID uuid.UUID, providerCallID string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var row struct {
			LeadID uuid.UUID `db:"lead_id"`
			Status string    `db:"status"`
		}
		err := tx.QueryRowxContext(ctx, `UPDATE call_attempts SET provider_call_id = $2,
			started_at = COALESCE(started_at, NOW()), updated_at = NOW()
			WHERE id = $1 RETURNING lead_id, status`, attemptID, providerCallID).StructScan(&row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("attempt repo: mark dispatched: %w", err)
		}
		if domain.AttemptStatus(row.Status).Terminal() {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE leads SET status = 'calling', updated_at = NOW() WHERE id = $1`, row.LeadID); err != nil {
			return fmt.Errorf("attempt repo: lead calling: %w", err)
		}
		return nil
	})
}

// MarkDispatchFailed closes an attempt the provider never accepted and holds
// its lead until retryAt.
func (r *AttemptRepository) MarkDispatchFailed(ctx context.Context, attemptID uuid.UUID, reason string, retryAt time.Time) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var campaignID, leadID uuid.UUID
		err := tx.QueryRowxContext(ctx, `UPDATE call_attempts SET status = 'failed', error = $2, ended_reason = 'dispatch_failed',
			ended_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'initiated' RETURNING campaign_id, lead_id`, attemptID, reason).Scan(&campaignID, &leadID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("attempt repo: mark failed: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE leads SET next_call_scheduled_at = $2, updated_at = NOW() WHERE id = $1`,
			leadID, retryAt.UTC()); err != nil {
			return fmt.Errorf("attempt repo: hold lead: %w", err)
		}
		return applyDelta(ctx, tx, campaignID, repository.StatsDelta{FailedCallsDelta: 1, InProgressCallsDelta: -1})
	})
}

// Get fetches an attempt by id.
func (r *AttemptRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM call_attempts WHERE id = $1`, id)
}

// GetByProviderCallID fetches an attempt by the provider's call id.
func (r *AttemptRepository) GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.CallAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM call_attempts WHERE provider_call_id = $1`, providerCallID)
}

func (r *AttemptRepository) getOne(ctx context.Context, q string, arg any) (*domain.CallAttempt, error) {
	var record attemptRecord
	if err := r.db.QueryRowxContext(ctx, q, arg).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("attempt repo: get: %w", err)
	}
	a := record.toDomain()
	return &a, nil
}

// CountSince counts attempts for a lead created at or after since.
func (r *AttemptRepository) CountSince(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM call_attempts WHERE lead_id = $1 AND created_at >= $2`, leadID, since); err != nil {
		return 0, fmt.Errorf("attempt repo: count since: %w", err)
	}
	return n, nil
}

// ListStale returns live attempts created before olderThan, oldest first.
func (r *AttemptRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.CallAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []attemptRecord
	if err := r.db.SelectContext(ctx, &records, `SELECT `+attemptColumns+` FROM call_attempts
		WHERE status IN `+liveStatuses+` AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`, olderThan, limit); err != nil {
		return nil, fmt.Errorf("attempt repo: list stale: %w", err)
	}
	out := make([]domain.CallAttempt, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

// Advance records the event key and moves a live attempt forward.
func (r *AttemptRepository) Advance(ctx context.Context, t repository.Transition) (bool, error) {
	applied := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		fresh, err := recordEvent(ctx, tx, t.IdempotencyKey, t.ProviderCallID, t.EventType)
		if err != nil || !fresh {
			return err
		}

		from := statusStrings(domain.StatusesBelow(t.To))
		res, err := tx.ExecContext(ctx, `UPDATE call_attempts SET status = $3,
			provider_call_id = COALESCE(provider_call_id, NULLIF($1, '')),
			started_at = COALESCE(started_at, $4),
			updated_at = NOW()
			WHERE ((provider_call_id = $1 AND $1 <> '') OR id = $2)
			  AND status = ANY($5)`,
			t.ProviderCallID, t.AttemptID, t.To, t.OccurredAt, from)
		if err != nil {
			return fmt.Errorf("attempt repo: advance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("attempt repo: rows affected: %w", err)
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

// Finalize applies a terminal outcome: attempt, lead, number health and
// campaign counters change together, and only once per idempotency key.
func (r *AttemptRepository) Finalize(ctx context.Context, o repository.CallOutcome) (bool, error) {
	applied := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		fresh, err := recordEvent(ctx, tx, o.IdempotencyKey, o.ProviderCallID, o.EventType)
		if err != nil || !fresh {
			return err
		}

		var row struct {
			LeadID     uuid.UUID `db:"lead_id"`
			CampaignID uuid.UUID `db:"campaign_id"`
			NumberID   uuid.UUID `db:"number_id"`
		}
		err = tx.QueryRowxContext(ctx, `UPDATE call_attempts SET status = $3,
			provider_call_id = COALESCE(provider_call_id, NULLIF($1, '')),
			ended_reason = $4, duration_seconds = $5, cost = $6, transcript = $7, recording_url = $8,
			error = $9, ended_at = $10, updated_at = NOW()
			WHERE ((provider_call_id = $1 AND $1 <> '') OR id = $2)
			  AND status IN `+liveStatuses+`
			RETURNING lead_id, campaign_id, number_id`,
			o.ProviderCallID, o.AttemptID, o.Status, o.EndedReason, o.DurationSeconds, o.Cost,
			o.Transcript, o.RecordingURL, o.Error, o.EndedAt,
		).StructScan(&row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("attempt repo: finalize attempt: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE leads SET status = $2, next_call_scheduled_at = $3, updated_at = NOW()
			WHERE id = $1 AND status IN ('calling', 'new', 'contacted')`, row.LeadID, o.LeadStatus, o.NextCallAt); err != nil {
			return fmt.Errorf("attempt repo: finalize lead: %w", err)
		}

		answered := 0
		if o.Answered {
			answered = 1
		}
		if _, err := tx.ExecContext(ctx, `UPDATE outbound_numbers SET answered_calls = answered_calls + $2,
			health_score = CASE WHEN total_calls > 0
				THEN ROUND((100.0 * (answered_calls + $2) / total_calls)::numeric, 2)
				ELSE health_score END
			WHERE id = $1`, row.NumberID, answered); err != nil {
			return fmt.Errorf("attempt repo: finalize number: %w", err)
		}

		if err := applyDelta(ctx, tx, row.CampaignID, repository.DeltaForOutcome(o.Status, o.DurationSeconds, o.Cost)); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func statusStrings(statuses []domain.AttemptStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

type attemptRecord struct {
	ID              uuid.UUID      `db:"id"`
	LeadID          uuid.UUID      `db:"lead_id"`
	CampaignID      uuid.UUID      `db:"campaign_id"`
	AccountID       uuid.UUID      `db:"account_id"`
	NumberID        uuid.UUID      `db:"number_id"`
	ProviderCallID  sql.NullString `db:"provider_call_id"`
	AttemptNumber   int            `db:"attempt_number"`
	Status          string         `db:"status"`
	StartedAt       sql.NullTime   `db:"started_at"`
	EndedAt         sql.NullTime   `db:"ended_at"`
	DurationSeconds int            `db:"duration_seconds"`
	Cost            float64        `db:"cost"`
	EndedReason     string         `db:"ended_reason"`
	Transcript      string         `db:"transcript"`
	RecordingURL    string         `db:"recording_url"`
	Error           string         `db:"error"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r attemptRecord) toDomain() domain.CallAttempt {
	a := domain.CallAttempt{
		ID:              r.ID,
		LeadID:          r.LeadID,
		CampaignID:      r.CampaignID,
		AccountID:       r.AccountID,
		NumberID:        r.NumberID,
		AttemptNumber:   r.AttemptNumber,
		Status:          domain.AttemptStatus(r.Status),
		StartedAt:       nullTime(r.StartedAt),
		EndedAt:         nullTime(r.EndedAt),
		DurationSeconds: r.DurationSeconds,
		Cost:            r.Cost,
		EndedReason:     r.EndedReason,
		Transcript:      r.Transcript,
		RecordingURL:    r.RecordingURL,
		Error:           r.Error,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.ProviderCallID.Valid {
		id := r.ProviderCallID.String
		a.ProviderCallID = &id
	}
	return a
}
