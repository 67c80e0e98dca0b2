package jobs

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

var transientKeywords = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"network",
	"connection refused",
	"connection reset",
	"busy",
	"rate limit",
	"rate-limit",
	"too many requests",
	"unavailable",
	"temporarily",
}

// IsTransient reports whether err looks like a passing provider or network
// condition worth a campaign-level retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperrors.ErrUnavailable) || errors.Is(err, apperrors.ErrQuotaExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// RetryDelay is the exponential backoff per task type; n is the number of
// retries already made.
func RetryDelay(n int, err error, task *asynq.Task) time.Duration {
	switch task.Type() {
	case TypeMakeCall:
		return backoff(10*time.Second, n)
	case TypeAnalyzeCall:
		return backoff(5*time.Second, n)
	}
	return asynq.DefaultRetryDelayFunc(n, err, task)
}

func backoff(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return time.Duration(float64(base) * math.Pow(2, float64(n)))
}

// skipRetry marks data errors as final.
func skipRetry(err error) error {
	if err != nil && apperrors.IsDataError(err) && !errors.Is(err, asynq.SkipRetry) {
		return errors.Join(err, asynq.SkipRetry)
	}
	return err
}
