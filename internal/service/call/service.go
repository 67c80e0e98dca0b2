package call

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Enqueuer hands a lead to the job processor for dispatch.
type Enqueuer interface {
	EnqueueMakeCall(ctx context.Context, leadID uuid.UUID) (string, error)
}

// Service coordinates manual call triggers and call history reads.
type Service struct {
	leads       repository.LeadRepository
	campaigns   repository.CampaignRepository
	attempts    repository.AttemptRepository
	webhooks    repository.WebhookEventStore
	transcripts repository.TranscriptStore
	enqueuer    Enqueuer
}

// NewService builds the call management service.
func NewService(
	leads repository.LeadRepository,
	campaigns repository.CampaignRepository,
	attempts repository.AttemptRepository,
	webhooks repository.WebhookEventStore,
	transcripts repository.TranscriptStore,
	enqueuer Enqueuer,
) *Service {
	return &Service{
		leads:       leads,
		campaigns:   campaigns,
		attempts:    attempts,
		webhooks:    webhooks,
		transcripts: transcripts,
		enqueuer:    enqueuer,
	}
}

// TriggerResult identifies the queued make-call job.
type TriggerResult struct {
	LeadID     uuid.UUID
	CampaignID uuid.UUID
	TaskID     string
}

// TriggerCall queues an immediate make-call job for a lead. The compliance gate
// still runs when the job executes.
func (s *Service) TriggerCall(ctx context.Context, leadID uuid.UUID) (*TriggerResult, error) {
	lead, err := s.leads.Get(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("call service: lookup lead: %w", err)
	}
	if lead.DNCStatus {
		return nil, fmt.Errorf("%w: lead is on the do-not-call list", apperrors.ErrConflict)
	}
	campaign, err := s.campaigns.Get(ctx, lead.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("call service: lookup campaign: %w", err)
	}
	if !campaign.Dialable() {
		return nil, fmt.Errorf("%w: campaign %s is not dialable", apperrors.ErrConflict, campaign.ID)
	}

	taskID, err := s.enqueuer.EnqueueMakeCall(ctx, lead.ID)
	if err != nil {
		return nil, fmt.Errorf("call service: enqueue make-call: %w", err)
	}
	return &TriggerResult{LeadID: lead.ID, CampaignID: campaign.ID, TaskID: taskID}, nil
}

// GetAttempt retrieves a call attempt by id.
func (s *Service) GetAttempt(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error) {
	return s.attempts.Get(ctx, id)
}

// GetAttemptByProviderCallID retrieves a call attempt by the provider's call id.
func (s *Service) GetAttemptByProviderCallID(ctx context.Context, providerCallID string) (*domain.CallAttempt, error) {
	return s.attempts.GetByProviderCallID(ctx, providerCallID)
}

// ListEventsResult is one page of a call's webhook history.
type ListEventsResult struct {
	Events      []domain.WebhookEvent
	PagingState []byte
}

// ListEvents pages through the webhook audit log of an attempt, newest first.
func (s *Service) ListEvents(ctx context.Context, attemptID uuid.UUID, limit int, pagingState []byte) (*ListEventsResult, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.ProviderCallID == nil {
		return &ListEventsResult{}, nil
	}
	events, next, err := s.webhooks.ListByCall(ctx, *attempt.ProviderCallID, clampLimit(limit), pagingState)
	if err != nil {
		return nil, fmt.Errorf("call service: list events: %w", err)
	}
	return &ListEventsResult{Events: events, PagingState: next}, nil
}

// Transcript returns the streamed transcript chunks of an attempt.
func (s *Service) Transcript(ctx context.Context, attemptID uuid.UUID) ([]domain.TranscriptSegment, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.ProviderCallID == nil {
		return nil, nil
	}
	segments, err := s.transcripts.ListSegments(ctx, *attempt.ProviderCallID)
	if err != nil {
		return nil, fmt.Errorf("call service: list transcript: %w", err)
	}
	return segments, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultEventLimit
	case limit > maxEventLimit:
		return maxEventLimit
	default:
		return limit
	}
}
