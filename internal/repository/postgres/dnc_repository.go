package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DNCRepository implements repository.DNCRepository over the internal registry table.
type DNCRepository struct {
	db *sqlx.DB
}

// NewDNCRepository builds the repository.
func NewDNCRepository(db *sqlx.DB) *DNCRepository {
	return &DNCRepository{db: db}
}

// Contains reports whether phone is on the internal list.
func (r *DNCRepository) Contains(ctx context.Context, phone string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM dnc_registry WHERE phone_number = $1)`, phone); err != nil {
		return false, fmt.Errorf("dnc repo: contains: %w", err)
	}
	return exists, nil
}

// Add lists phone and flags every lead carrying it.
func (r *DNCRepository) Add(ctx context.Context, phone, source string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dnc_registry (phone_number, source) VALUES ($1, $2)
			ON CONFLICT (phone_number) DO NOTHING`, phone, source); err != nil {
			return fmt.Errorf("dnc repo: insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE leads SET dnc_status = TRUE, updated_at = NOW() WHERE phone_number = $1`, phone); err != nil {
			return fmt.Errorf("dnc repo: flag leads: %w", err)
		}
		return nil
	})
}
