package webhook

import (
	"math"
	"strings"
	"time"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
)

// Retry delays by terminal status.
const (
	voicemailRetry = 72 * time.Hour
	noAnswerRetry  = 24 * time.Hour
	busyRetry      = 4 * time.Hour
	failedRetry    = 24 * time.Hour
	// completedHold keeps an answered lead out of the dialer until analysis
	// has had a chance to qualify it.
	completedHold = 24 * time.Hour
)

// TerminalStatus maps the provider's ended reason, then its status, onto an
// attempt status.
func TerminalStatus(call Call) domain.AttemptStatus {
	reason := strings.ToLower(call.EndedReason)
	switch {
	case strings.Contains(reason, "voicemail"):
		return domain.AttemptStatusVoicemail
	case strings.Contains(reason, "busy"):
		return domain.AttemptStatusBusy
	case strings.Contains(reason, "no-answer"), strings.Contains(reason, "did-not-answer"), strings.Contains(reason, "no_answer"):
		return domain.AttemptStatusNoAnswer
	case strings.Contains(reason, "error"), strings.Contains(reason, "failed"), strings.Contains(reason, "invalid"):
		return domain.AttemptStatusFailed
	case strings.Contains(reason, "ended-call"), strings.Contains(reason, "hangup"),
		strings.Contains(reason, "completed"), strings.Contains(reason, "timed-out"),
		strings.Contains(reason, "max-duration"):
		return domain.AttemptStatusCompleted
	}

	switch s := domain.AttemptStatus(strings.ReplaceAll(strings.ToLower(call.Status), "-", "_")); s {
	case domain.AttemptStatusCompleted, domain.AttemptStatusFailed, domain.AttemptStatusBusy,
		domain.AttemptStatusNoAnswer, domain.AttemptStatusVoicemail:
		return s
	}
	if call.Duration > 0 {
		return domain.AttemptStatusCompleted
	}
	return domain.AttemptStatusFailed
}

// LeadAfter decides the lead status and next call time for a finished call.
// attemptCount includes the call that just ended.
func LeadAfter(status domain.AttemptStatus, attemptCount, maxAttempts int, endedAt time.Time) (domain.LeadStatus, *time.Time) {
	if status == domain.AttemptStatusCompleted {
		next := endedAt.Add(completedHold)
		return domain.LeadStatusContacted, &next
	}
	if maxAttempts > 0 && attemptCount >= maxAttempts {
		return domain.LeadStatusUnqualified, nil
	}

	var delay time.Duration
	switch status {
	case domain.AttemptStatusVoicemail:
		delay = voicemailRetry
	case domain.AttemptStatusNoAnswer:
		delay = noAnswerRetry
	case domain.AttemptStatusBusy:
		delay = busyRetry
	default:
		delay = failedRetry
	}
	next := endedAt.Add(delay)
	return domain.LeadStatusContacted, &next
}

// BuildOutcome assembles everything a call-end changes.
func BuildOutcome(key string, ev *Event, attempt *domain.CallAttempt, lead *domain.Lead, maxAttempts int, endedAt time.Time) repository.CallOutcome {
	status := TerminalStatus(ev.Call)
	if ev.Type == TypeError {
		status = domain.AttemptStatusFailed
	}
	leadStatus, next := LeadAfter(status, lead.AttemptCount, maxAttempts, endedAt)

	reason := ev.Call.EndedReason
	if reason == "" && ev.Type == TypeError {
		reason = "provider-error"
	}
	errMsg := ev.Error
	if errMsg == "" && status == domain.AttemptStatusFailed {
		errMsg = reason
	}

	return repository.CallOutcome{
		IdempotencyKey:  key,
		EventType:       ev.Type,
		AttemptID:       attempt.ID,
		ProviderCallID:  ev.Call.ID,
		Status:          status,
		EndedReason:     reason,
		DurationSeconds: int(math.Round(ev.Call.Duration)),
		Cost:            ev.Call.Cost,
		Transcript:      ev.Call.Transcript,
		RecordingURL:    ev.Call.RecordingURL,
		Error:           errMsg,
		EndedAt:         endedAt,
		Answered:        status == domain.AttemptStatusCompleted,
		LeadStatus:      leadStatus,
		NextCallAt:      next,
	}
}
