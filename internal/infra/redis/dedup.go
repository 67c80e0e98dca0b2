package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const dedupPrefix = "dialer:webhook:seen:"

// Dedup is a best-effort cache of processed webhook idempotency keys. The
// database table stays authoritative; this only saves a transaction on replays.
type Dedup struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDedup builds the cache.
func NewDedup(c *Client, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Dedup{client: c.Inner(), ttl: ttl}
}

// Seen reports whether key was marked.
func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: exists: %w", err)
	}
	return n > 0, nil
}

// Mark records key as processed.
func (d *Dedup) Mark(ctx context.Context, key string) error {
	if err := d.client.Set(ctx, dedupPrefix+key, 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup: set: %w", err)
	}
	return nil
}
