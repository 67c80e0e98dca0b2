package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestCampaignLockExclusive(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	campaign := uuid.New()

	first := NewCampaignLock(client, time.Minute)
	second := NewCampaignLock(client, time.Minute)

	ok, err := first.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.False(t, ok)

	// a foreign release must not free the lock
	require.NoError(t, second.Release(ctx, campaign))
	ok, err = second.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, first.Release(ctx, campaign))
	ok, err = second.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCampaignLockExpires(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	campaign := uuid.New()

	lock := NewCampaignLock(client, time.Second)
	ok, err := lock.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	other := NewCampaignLock(client, time.Second)
	ok, err = other.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCampaignLockExtend(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	campaign := uuid.New()

	lock := NewCampaignLock(client, time.Minute)
	rival := NewCampaignLock(client, time.Minute)

	ok, err := lock.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(45 * time.Second)
	ok, err = lock.Extend(ctx, campaign)
	require.NoError(t, err)
	require.True(t, ok)

	// past the original expiry but inside the renewed one
	mr.FastForward(45 * time.Second)
	ok, err = rival.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = rival.Extend(ctx, campaign)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCampaignLockExtendAfterExpiry(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	campaign := uuid.New()

	lock := NewCampaignLock(client, time.Minute)
	ok, err := lock.Acquire(ctx, campaign)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = lock.Extend(ctx, campaign)
	require.NoError(t, err)
	require.False(t, ok)
}
