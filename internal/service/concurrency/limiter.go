package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// CampaignLock keeps two dialer replicas from working the same campaign in one tick.
type CampaignLock struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewCampaignLock constructs a lock bound to one process identity.
func NewCampaignLock(client *redis.Client, ttl time.Duration) *CampaignLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CampaignLock{client: client, owner: uuid.NewString(), ttl: ttl}
}

// Acquire takes the campaign lock if nobody holds it.
func (l *CampaignLock) Acquire(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(campaignID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("campaign lock acquire: %w", err)
	}
	return ok, nil
}

// Extend pushes the expiry a full TTL out from now. It reports false when the
// lock already lapsed or belongs to another process.
func (l *CampaignLock) Extend(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key(campaignID)}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("campaign lock extend: %w", err)
	}
	return n == 1, nil
}

// Release drops the lock when this process still owns it.
func (l *CampaignLock) Release(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key(campaignID)}, l.owner).Int(); err != nil {
		return fmt.Errorf("campaign lock release: %w", err)
	}
	return nil
}

func (l *CampaignLock) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("dialer:campaign:%s:lock", campaignID.String())
}
