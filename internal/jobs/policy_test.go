package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("telephony: %w", apperrors.ErrUnavailable), true},
		{fmt.Errorf("telephony: %w", apperrors.ErrQuotaExceeded), true},
		{context.DeadlineExceeded, true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("invalid agent id"), false},
		{fmt.Errorf("lead: %w", apperrors.ErrNotFound), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsTransient(tc.err), "%v", tc.err)
	}
}

func TestRetryDelay(t *testing.T) {
	makeCall := asynq.NewTask(TypeMakeCall, nil)
	assert.Equal(t, 10*time.Second, RetryDelay(0, nil, makeCall))
	assert.Equal(t, 20*time.Second, RetryDelay(1, nil, makeCall))
	assert.Equal(t, 40*time.Second, RetryDelay(2, nil, makeCall))

	analyze := asynq.NewTask(TypeAnalyzeCall, nil)
	assert.Equal(t, 5*time.Second, RetryDelay(0, nil, analyze))
	assert.Equal(t, 20*time.Second, RetryDelay(2, nil, analyze))
}

func TestSkipRetry(t *testing.T) {
	assert.NoError(t, skipRetry(nil))

	data := skipRetry(fmt.Errorf("lead: %w", apperrors.ErrNotFound))
	assert.True(t, errors.Is(data, asynq.SkipRetry))
	assert.True(t, errors.Is(data, apperrors.ErrNotFound))

	transient := skipRetry(apperrors.ErrUnavailable)
	assert.False(t, errors.Is(transient, asynq.SkipRetry))
}
