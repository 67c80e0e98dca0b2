package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-dialer/internal/domain"
)

// BusinessHourRepository persists campaign calling-hours windows as minutes of day.
type BusinessHourRepository struct {
	db *sqlx.DB
}

// NewBusinessHourRepository creates a new repository.
func NewBusinessHourRepository(db *sqlx.DB) *BusinessHourRepository {
	return &BusinessHourRepository{db: db}
}

// Replace replaces all windows for a campaign.
func (r *BusinessHourRepository) Replace(ctx context.Context, campaignID uuid.UUID, windows []domain.BusinessHourWindow) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_business_hours WHERE campaign_id = $1`, campaignID); err != nil {
			return fmt.Errorf("business hours: delete existing: %w", err)
		}

		for _, w := range windows {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO campaign_business_hours (campaign_id, day_of_week, start_minute, end_minute) VALUES ($1, $2, $3, $4)`,
				campaignID, int(w.DayOfWeek), minuteOfDay(w.Start), minuteOfDay(w.End),
			); err != nil {
				return fmt.Errorf("business hours: insert: %w", err)
			}
		}
		return nil
	})
}

// List retrieves windows for a campaign.
func (r *BusinessHourRepository) List(ctx context.Context, campaignID uuid.UUID) ([]domain.BusinessHourWindow, error) {
	var rows []struct {
		Day      int `db:"day_of_week"`
		StartMin int `db:"start_minute"`
		EndMin   int `db:"end_minute"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT day_of_week, start_minute, end_minute FROM campaign_business_hours WHERE campaign_id = $1 ORDER BY day_of_week, start_minute`,
		campaignID,
	); err != nil {
		return nil, fmt.Errorf("business hours: query: %w", err)
	}

	windows := make([]domain.BusinessHourWindow, 0, len(rows))
	for _, row := range rows {
		windows = append(windows, domain.BusinessHourWindow{
			DayOfWeek: time.Weekday(row.Day),
			Start:     minuteToTime(row.StartMin),
			End:       minuteToTime(row.EndMin),
		})
	}
	return windows, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func minuteToTime(min int) time.Time {
	return time.Date(2000, time.January, 1, min/60, min%60, 0, 0, time.UTC)
}
