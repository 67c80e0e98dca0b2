package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/compliance"
	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
	"github.com/acme/voice-dialer/internal/repository"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
	"github.com/acme/voice-dialer/pkg/logger"
)

const (
	defaultMaxAttempts = 3
	defaultDailyLimit  = 100
	defaultHealthScore = 100
)

// Deps are the collaborators of the campaign service.
type Deps struct {
	Campaigns     repository.CampaignRepository
	BusinessHours repository.BusinessHourRepository
	Leads         repository.LeadRepository
	Numbers       repository.NumberRepository
	Statistics    repository.CampaignStatisticsRepository
	Events        events.Publisher
	DefaultRegion string
	Clock         func() time.Time
	Logger        *logger.Logger
}

// Service orchestrates campaign lifecycle operations.
type Service struct {
	Deps
}

// NewService constructs a campaign service.
func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.DefaultRegion == "" {
		deps.DefaultRegion = "US"
	}
	return &Service{Deps: deps}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	AccountID          uuid.UUID
	Name               string
	Description        string
	TimeZone           string
	AgentID            string
	MaxAttemptsPerLead int
	BusinessHours      []BusinessHourInput
	Leads              []LeadInput
}

// BusinessHourInput expresses a business hour window.
type BusinessHourInput struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// LeadInput is one lead row of an import.
type LeadInput struct {
	PhoneNumber    string
	Timezone       string
	PriorityScore  int
	AssignedUserID *uuid.UUID
	ConsentAt      *time.Time
	Data           map[string]any
}

// NumberInput registers an outbound caller id.
type NumberInput struct {
	PhoneNumber string
	DailyLimit  int
}

// UpdateCampaignInput captures updatable properties.
type UpdateCampaignInput struct {
	ID                 uuid.UUID
	Name               *string
	Description        *string
	AgentID            *string
	MaxAttemptsPerLead *int
	BusinessHours      *[]BusinessHourInput
}

// Create provisions a new campaign in draft.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := s.Clock().UTC()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		AccountID:          input.AccountID,
		Name:               input.Name,
		Description:        input.Description,
		TimeZone:           input.TimeZone,
		AgentID:            input.AgentID,
		MaxAttemptsPerLead: resolveAttempts(input.MaxAttemptsPerLead),
		Status:             domain.CampaignStatusDraft,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.Campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}

	windows := toDomainBusinessHours(input.BusinessHours)
	if err := s.BusinessHours.Replace(ctx, campaign.ID, windows); err != nil {
		return nil, fmt.Errorf("campaign service: store business hours: %w", err)
	}
	campaign.BusinessHours = windows

	if err := s.Statistics.Ensure(ctx, campaign.ID); err != nil {
		return nil, fmt.Errorf("campaign service: ensure stats: %w", err)
	}

	if len(input.Leads) > 0 {
		if _, err := s.ImportLeads(ctx, campaign.ID, input.Leads); err != nil {
			return nil, err
		}
	}

	s.Logger.WithContext(ctx).Info("campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("account_id", campaign.AccountID.String()))
	return campaign, nil
}

// Get retrieves a campaign by id including business hours.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.Campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	windows, err := s.BusinessHours.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: list business hours: %w", err)
	}
	campaign.BusinessHours = windows
	return campaign, nil
}

// List returns campaigns.
func (s *Service) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return s.Campaigns.List(ctx, afterID, limit)
}

// ListByStatus returns campaigns filtered by status with business hours populated.
func (s *Service) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	campaigns, err := s.Campaigns.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		windows, err := s.BusinessHours.List(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("campaign service: list business hours: %w", err)
		}
		c.BusinessHours = windows
	}
	return campaigns, nil
}

// Update modifies campaign metadata.
func (s *Service) Update(ctx context.Context, input UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return nil, fmt.Errorf("%w: campaign is completed", apperrors.ErrConflict)
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
		}
		campaign.Name = *input.Name
	}
	if input.Description != nil {
		campaign.Description = *input.Description
	}
	if input.AgentID != nil {
		campaign.AgentID = *input.AgentID
	}
	if input.MaxAttemptsPerLead != nil {
		campaign.MaxAttemptsPerLead = resolveAttempts(*input.MaxAttemptsPerLead)
	}
	if input.BusinessHours != nil {
		if err := validateBusinessHours(*input.BusinessHours); err != nil {
			return nil, err
		}
	}

	campaign.UpdatedAt = s.Clock().UTC()

	if err := s.Campaigns.Update(ctx, campaign); err != nil {
		return nil, err
	}

	if input.BusinessHours != nil {
		windows := toDomainBusinessHours(*input.BusinessHours)
		if err := s.BusinessHours.Replace(ctx, campaign.ID, windows); err != nil {
			return nil, fmt.Errorf("campaign service: update business hours: %w", err)
		}
		campaign.BusinessHours = windows
	}

	return campaign, nil
}

// Start makes a campaign visible to the dialer.
func (s *Service) Start(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.Campaigns.Get(ctx, id)
	if err != nil {
		return err
	}

	switch campaign.Status {
	case domain.CampaignStatusActive:
		return nil
	case domain.CampaignStatusCompleted:
		return fmt.Errorf("%w: cannot start completed campaign", apperrors.ErrConflict)
	}
	if campaign.AgentID == "" {
		return fmt.Errorf("%w: campaign has no agent", apperrors.ErrValidation)
	}

	now := s.Clock().UTC()
	campaign.Status = domain.CampaignStatusActive
	if campaign.StartedAt == nil {
		campaign.StartedAt = &now
	}
	campaign.UpdatedAt = now
	return s.Campaigns.Update(ctx, campaign)
}

// Pause transitions a campaign to paused state.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.Campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return fmt.Errorf("%w: cannot pause completed campaign", apperrors.ErrConflict)
	}
	campaign.Status = domain.CampaignStatusPaused
	campaign.UpdatedAt = s.Clock().UTC()
	return s.Campaigns.Update(ctx, campaign)
}

// Complete marks a campaign as completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.Campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return nil
	}
	now := s.Clock().UTC()
	campaign.Status = domain.CampaignStatusCompleted
	campaign.CompletedAt = &now
	campaign.UpdatedAt = now
	if err := s.Campaigns.Update(ctx, campaign); err != nil {
		return err
	}

	events.Emit(ctx, s.Events, s.Logger, domain.NewEvent(domain.EventCampaignCompleted, campaign.AccountID, map[string]any{
		"reason": "manual",
	}).ForCampaign(campaign.ID))
	return nil
}

// Stats retrieves aggregated statistics.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	return s.Statistics.Get(ctx, id)
}

// ImportLeads normalises and stores leads for a campaign. Returns how many were stored.
func (s *Service) ImportLeads(ctx context.Context, campaignID uuid.UUID, inputs []LeadInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}
	campaign, err := s.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return 0, fmt.Errorf("%w: campaign is completed", apperrors.ErrConflict)
	}

	now := s.Clock().UTC()
	seen := make(map[string]struct{}, len(inputs))
	leads := make([]domain.Lead, 0, len(inputs))
	for i, in := range inputs {
		phone := compliance.NormalizeNumber(in.PhoneNumber, s.DefaultRegion)
		if phone == "" {
			return 0, fmt.Errorf("%w: lead %d has no phone number", apperrors.ErrValidation, i)
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}

		data := in.Data
		if data == nil {
			data = map[string]any{}
		}
		leads = append(leads, domain.Lead{
			ID:             uuid.New(),
			CampaignID:     campaign.ID,
			AccountID:      campaign.AccountID,
			AssignedUserID: in.AssignedUserID,
			PhoneNumber:    phone,
			Timezone:       in.Timezone,
			Status:         domain.LeadStatusNew,
			PriorityScore:  in.PriorityScore,
			ConsentAt:      in.ConsentAt,
			Data:           data,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := s.Leads.BulkInsert(ctx, leads); err != nil {
		return 0, fmt.Errorf("campaign service: import leads: %w", err)
	}
	return len(leads), nil
}

// RegisterNumber binds an outbound caller id to a campaign.
func (s *Service) RegisterNumber(ctx context.Context, campaignID uuid.UUID, input NumberInput) (*domain.OutboundNumber, error) {
	if _, err := s.Campaigns.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	phone := compliance.NormalizeNumber(input.PhoneNumber, s.DefaultRegion)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	limit := input.DailyLimit
	if limit <= 0 {
		limit = defaultDailyLimit
	}

	number := &domain.OutboundNumber{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		PhoneNumber: phone,
		IsActive:    true,
		DailyLimit:  limit,
		HealthScore: defaultHealthScore,
		CreatedAt:   s.Clock().UTC(),
	}
	if err := s.Numbers.Create(ctx, number); err != nil {
		return nil, fmt.Errorf("campaign service: register number: %w", err)
	}
	return number, nil
}

// ListNumbers returns the caller ids of a campaign.
func (s *Service) ListNumbers(ctx context.Context, campaignID uuid.UUID) ([]domain.OutboundNumber, error) {
	return s.Numbers.ListByCampaign(ctx, campaignID)
}

func resolveAttempts(value int) int {
	if value <= 0 {
		return defaultMaxAttempts
	}
	return value
}

func toDomainBusinessHours(inputs []BusinessHourInput) []domain.BusinessHourWindow {
	windows := make([]domain.BusinessHourWindow, 0, len(inputs))
	for _, in := range inputs {
		windows = append(windows, domain.BusinessHourWindow{
			DayOfWeek: in.DayOfWeek,
			Start:     in.Start,
			End:       in.End,
		})
	}
	return windows
}

func validateCreateInput(input CreateCampaignInput) error {
	if input.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account id is required", apperrors.ErrValidation)
	}
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if input.TimeZone == "" {
		return fmt.Errorf("%w: time zone is required", apperrors.ErrValidation)
	}
	if _, err := time.LoadLocation(input.TimeZone); err != nil {
		return fmt.Errorf("%w: invalid time zone %s: %v", apperrors.ErrValidation, input.TimeZone, err)
	}
	if input.MaxAttemptsPerLead < 0 {
		return fmt.Errorf("%w: max attempts must not be negative", apperrors.ErrValidation)
	}
	return validateBusinessHours(input.BusinessHours)
}

// validateBusinessHours accepts windows that cross midnight; only zero-length ones are rejected.
func validateBusinessHours(windows []BusinessHourInput) error {
	for _, bh := range windows {
		if bh.DayOfWeek < time.Sunday || bh.DayOfWeek > time.Saturday {
			return fmt.Errorf("%w: invalid day of week %d", apperrors.ErrValidation, bh.DayOfWeek)
		}
		start := bh.Start.Hour()*60 + bh.Start.Minute()
		end := bh.End.Hour()*60 + bh.End.Minute()
		if start == end {
			return fmt.Errorf("%w: business hour window must have positive duration", apperrors.ErrValidation)
		}
	}
	return nil
}
