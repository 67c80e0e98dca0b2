package jobs

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

// Task type names.
const (
	TypeMakeCall          = "make-call"
	TypeRetryCall         = "retry-call"
	TypeAnalyzeCall       = "analyze-call"
	TypeUpdateCallStatus  = "update-call-status"
	TypeProcessCallback   = "process-callback"
	TypeCleanupStaleCalls = "cleanup-stale-calls"
	TypeSweepCallbacks    = "callbacks:sweep"
	TypeResetDailyNumbers = "numbers:reset-daily"
)

// Retry budgets per task type.
const (
	makeCallRetries    = 2
	analyzeCallRetries = 3
)

// LeadPayload targets one lead.
type LeadPayload struct {
	LeadID uuid.UUID `json:"leadId"`
	Reason string    `json:"reason,omitempty"`
}

// AttemptPayload targets one call attempt.
type AttemptPayload struct {
	AttemptID uuid.UUID `json:"attemptId"`
}

// NewMakeCallTask builds a make-call task.
func NewMakeCallTask(leadID uuid.UUID) (*asynq.Task, error) {
	return newTask(TypeMakeCall, LeadPayload{LeadID: leadID}, asynq.MaxRetry(makeCallRetries))
}

// NewRetryCallTask builds the campaign-level retry of an exhausted make-call.
func NewRetryCallTask(leadID uuid.UUID, reason string) (*asynq.Task, error) {
	return newTask(TypeRetryCall, LeadPayload{LeadID: leadID, Reason: reason}, asynq.MaxRetry(0))
}

// NewAnalyzeCallTask builds an analyze-call task.
func NewAnalyzeCallTask(attemptID uuid.UUID) (*asynq.Task, error) {
	return newTask(TypeAnalyzeCall, AttemptPayload{AttemptID: attemptID}, asynq.MaxRetry(analyzeCallRetries))
}

// NewUpdateCallStatusTask builds a provider reconciliation task.
func NewUpdateCallStatusTask(attemptID uuid.UUID) (*asynq.Task, error) {
	return newTask(TypeUpdateCallStatus, AttemptPayload{AttemptID: attemptID}, asynq.MaxRetry(0))
}

// NewProcessCallbackTask builds a due-callback dispatch.
func NewProcessCallbackTask(leadID uuid.UUID) (*asynq.Task, error) {
	return newTask(TypeProcessCallback, LeadPayload{LeadID: leadID}, asynq.MaxRetry(0))
}

func newPeriodicTask(typeName string) *asynq.Task {
	return asynq.NewTask(typeName, nil, asynq.MaxRetry(0))
}

func newTask(typeName string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal %s payload: %w", typeName, err)
	}
	return asynq.NewTask(typeName, data, opts...), nil
}

// parsePayload decodes a task payload. Undecodable payloads never succeed on retry.
func parsePayload[T any](task *asynq.Task) (T, error) {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("jobs: %w: decode %s payload: %v: %w", apperrors.ErrValidation, task.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}
