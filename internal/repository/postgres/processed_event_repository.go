package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ProcessedEventRepository is the webhook dedup table.
type ProcessedEventRepository struct {
	db *sqlx.DB
}

// NewProcessedEventRepository builds the repository.
func NewProcessedEventRepository(db *sqlx.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// Exists reports whether key was already applied.
func (r *ProcessedEventRepository) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE idempotency_key = $1)`, key); err != nil {
		return false, fmt.Errorf("processed events: exists: %w", err)
	}
	return exists, nil
}

// Record stores key. It reports false when the key was already present.
func (r *ProcessedEventRepository) Record(ctx context.Context, key, providerCallID, eventType string) (bool, error) {
	return recordEvent(ctx, r.db, key, providerCallID, eventType)
}

// Forget drops key so the event can be applied again.
func (r *ProcessedEventRepository) Forget(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM processed_webhook_events WHERE idempotency_key = $1`, key); err != nil {
		return fmt.Errorf("processed events: delete: %w", err)
	}
	return nil
}

func recordEvent(ctx context.Context, exec sqlx.ExecerContext, key, providerCallID, eventType string) (bool, error) {
	res, err := exec.ExecContext(ctx, `INSERT INTO processed_webhook_events (idempotency_key, provider_call_id, event_type)
		VALUES ($1, $2, $3) ON CONFLICT (idempotency_key) DO NOTHING`, key, providerCallID, eventType)
	if err != nil {
		return false, fmt.Errorf("processed events: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("processed events: rows affected: %w", err)
	}
	return n == 1, nil
}
