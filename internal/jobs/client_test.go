package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewClient(config.RedisConfig{Address: mr.Addr()}, config.JobsConfig{Queue: "calls", Retention: time.Hour})
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestEnqueueMakeCallLandsInPending(t *testing.T) {
	c, mr := newTestClient(t)

	id, err := c.EnqueueMakeCall(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pending, err := mr.List("asynq:{calls}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, pending)
}

func TestEnqueueAnalyzeCallOncePerAttempt(t *testing.T) {
	c, mr := newTestClient(t)
	attemptID := uuid.New()

	require.NoError(t, c.EnqueueAnalyzeCall(context.Background(), attemptID))
	require.NoError(t, c.EnqueueAnalyzeCall(context.Background(), attemptID))

	pending, err := mr.List("asynq:{calls}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{"analyze:" + attemptID.String()}, pending)
}

func TestEnqueueRetryCallIsScheduled(t *testing.T) {
	c, mr := newTestClient(t)

	require.NoError(t, c.EnqueueRetryCall(context.Background(), uuid.New(), "provider down", time.Hour))

	scheduled, err := mr.ZMembers("asynq:{calls}:scheduled")
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)
	assert.False(t, mr.Exists("asynq:{calls}:pending"))
}

func TestEnqueueUpdateCallStatusLandsInPending(t *testing.T) {
	c, mr := newTestClient(t)

	require.NoError(t, c.EnqueueUpdateCallStatus(context.Background(), uuid.New()))

	pending, err := mr.List("asynq:{calls}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEnqueueProcessCallbackDeduplicates(t *testing.T) {
	c, mr := newTestClient(t)
	leadID := uuid.New()

	require.NoError(t, c.EnqueueProcessCallback(context.Background(), leadID))
	require.NoError(t, c.EnqueueProcessCallback(context.Background(), leadID))

	pending, err := mr.List("asynq:{calls}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
