package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign metadata persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
	List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
}

// BusinessHourRepository manages campaign calling-hours windows.
type BusinessHourRepository interface {
	Replace(ctx context.Context, campaignID uuid.UUID, windows []domain.BusinessHourWindow) error
	List(ctx context.Context, campaignID uuid.UUID) ([]domain.BusinessHourWindow, error)
}

// LeadRepository stores dial targets.
type LeadRepository interface {
	BulkInsert(ctx context.Context, leads []domain.Lead) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	// ListEligible returns dialable leads without a live attempt, in dispatch order.
	ListEligible(ctx context.Context, campaignID uuid.UUID, maxAttempts int, now time.Time, limit int) ([]domain.Lead, error)
	// CountRemaining counts leads that may still produce a call, including ones mid-call.
	CountRemaining(ctx context.Context, campaignID uuid.UUID, maxAttempts int) (int, error)
	Defer(ctx context.Context, id uuid.UUID, until time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus, nextCall *time.Time) error
	MergeData(ctx context.Context, id uuid.UUID, data map[string]any) error
	SetAppointment(ctx context.Context, id uuid.UUID, at time.Time) error
	ApplyQualification(ctx context.Context, id uuid.UUID, score float64, status *domain.LeadStatus) error
	ListDueCallbacks(ctx context.Context, now time.Time, limit int) ([]domain.Lead, error)
}

// NumberRepository stores outbound caller ids.
type NumberRepository interface {
	Create(ctx context.Context, number *domain.OutboundNumber) error
	Get(ctx context.Context, id uuid.UUID) (*domain.OutboundNumber, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.OutboundNumber, error)
	// ListAvailable returns active numbers under their daily cap and past cooldown,
	// healthiest first and least used first.
	ListAvailable(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]domain.OutboundNumber, error)
	ResetDaily(ctx context.Context) (int64, error)
}

// AttemptRepository owns call attempt rows and the transactions around them.
type AttemptRepository interface {
	// CreateForDispatch inserts the attempt only if the lead has no live attempt,
	// and books the number usage in the same transaction. Returns ErrConflict otherwise.
	CreateForDispatch(ctx context.Context, attempt *domain.CallAttempt, cooldownUntil time.Time) error
	MarkDispatched(ctx context.Context, attemptID uuid.UUID, providerCallID string) error
	// MarkDispatchFailed closes an attempt the provider never accepted and holds
	// the lead until retryAt.
	MarkDispatchFailed(ctx context.Context, attemptID uuid.UUID, reason string, retryAt time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.CallAttempt, error)
	CountSince(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.CallAttempt, error)
	// Advance moves a live attempt forward and records the event key. It reports
	// false when the key was already processed or the attempt was already past to.
	Advance(ctx context.Context, t Transition) (bool, error)
	// Finalize applies a terminal outcome and all its side effects atomically.
	Finalize(ctx context.Context, outcome CallOutcome) (bool, error)
}

// DNCRepository is the internal do-not-call registry.
type DNCRepository interface {
	Contains(ctx context.Context, phone string) (bool, error)
	Add(ctx context.Context, phone, source string) error
}

// ProcessedEventStore is the authoritative webhook dedup table.
type ProcessedEventStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key, providerCallID, eventType string) (bool, error)
	// Forget releases a key whose effects failed to apply, so a redelivery
	// can try again.
	Forget(ctx context.Context, key string) error
}

// CampaignStatisticsRepository keeps aggregate counters.
type CampaignStatisticsRepository interface {
	Ensure(ctx context.Context, campaignID uuid.UUID) error
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
	ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta StatsDelta) error
}

// ComplianceLogStore appends and reads admission decisions.
type ComplianceLogStore interface {
	Append(ctx context.Context, entry domain.ComplianceLog) error
	// ActiveBlock returns the latest unexpired block for a phone number, or nil.
	ActiveBlock(ctx context.Context, phone string, now time.Time) (*domain.ComplianceLog, error)
}

// WebhookEventStore is the append-only callback audit log.
type WebhookEventStore interface {
	Append(ctx context.Context, event domain.WebhookEvent) error
	ListByCall(ctx context.Context, providerCallID string, limit int, pagingState []byte) ([]domain.WebhookEvent, []byte, error)
}

// TranscriptStore keeps streamed transcript chunks.
type TranscriptStore interface {
	AppendSegment(ctx context.Context, segment domain.TranscriptSegment) error
	ListSegments(ctx context.Context, providerCallID string) ([]domain.TranscriptSegment, error)
}

// Transition describes a forward-only status nudge caused by one event.
type Transition struct {
	IdempotencyKey string
	EventType      string
	AttemptID      uuid.UUID
	ProviderCallID string
	To             domain.AttemptStatus
	Error          string
	OccurredAt     time.Time
}

// CallOutcome is everything a finished call changes.
type CallOutcome struct {
	IdempotencyKey  string
	EventType       string
	AttemptID       uuid.UUID
	ProviderCallID  string
	Status          domain.AttemptStatus
	EndedReason     string
	DurationSeconds int
	Cost            float64
	Transcript      string
	RecordingURL    string
	Error           string
	EndedAt         time.Time
	Answered        bool
	LeadStatus      domain.LeadStatus
	NextCallAt      *time.Time
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	TotalCallsDelta       int64
	CompletedCallsDelta   int64
	FailedCallsDelta      int64
	InProgressCallsDelta  int64
	VoicemailCallsDelta   int64
	NoAnswerCallsDelta    int64
	BusyCallsDelta        int64
	ComplianceBlocksDelta int64
	CostDelta             float64
	DurationDelta         int64
}

// DeltaForOutcome converts a terminal status into counter changes.
func DeltaForOutcome(status domain.AttemptStatus, durationSec int, cost float64) StatsDelta {
	delta := StatsDelta{InProgressCallsDelta: -1, CostDelta: cost, DurationDelta: int64(durationSec)}
	switch status {
	case domain.AttemptStatusCompleted:
		delta.CompletedCallsDelta = 1
	case domain.AttemptStatusVoicemail:
		delta.VoicemailCallsDelta = 1
	case domain.AttemptStatusNoAnswer:
		delta.NoAnswerCallsDelta = 1
	case domain.AttemptStatusBusy:
		delta.BusyCallsDelta = 1
	default:
		delta.FailedCallsDelta = 1
	}
	return delta
}
