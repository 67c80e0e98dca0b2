package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
	"github.com/acme/voice-dialer/internal/repository"
	"github.com/acme/voice-dialer/internal/telephony"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
	"github.com/acme/voice-dialer/pkg/logger"
)

// Outcome classifies what happened to one lead.
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeFailed     Outcome = "failed"
	OutcomeSkipped    Outcome = "skipped"
)

// Progress stages reported while dispatching.
const (
	StageLookup     = "lookup"
	StageCompliance = "compliance"
	StageDispatch   = "dispatch"
	StageRecord     = "record"
)

// ProgressFunc receives a stage name and the completed fraction.
type ProgressFunc func(stage string, fraction float64)

// Checker is the admission control consulted before every call.
type Checker interface {
	Check(ctx context.Context, lead *domain.Lead, campaign *domain.Campaign) domain.Decision
}

// Result describes one dispatch.
type Result struct {
	Outcome        Outcome
	AttemptID      uuid.UUID
	ProviderCallID string
	Decision       domain.Decision
}

// Dispatcher runs compliance, books the attempt and calls the provider for one lead.
type Dispatcher struct {
	campaigns repository.CampaignRepository
	hours     repository.BusinessHourRepository
	leads     repository.LeadRepository
	numbers   repository.NumberRepository
	attempts  repository.AttemptRepository
	stats     repository.CampaignStatisticsRepository
	gate      Checker
	provider  telephony.Provider
	events    events.Publisher
	cooldown  time.Duration
	backoff   time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

// DispatcherDeps wires a Dispatcher.
type DispatcherDeps struct {
	Campaigns      repository.CampaignRepository
	BusinessHours  repository.BusinessHourRepository
	Leads          repository.LeadRepository
	Numbers        repository.NumberRepository
	Attempts       repository.AttemptRepository
	Stats          repository.CampaignStatisticsRepository
	Gate           Checker
	Provider       telephony.Provider
	Events         events.Publisher
	NumberCooldown time.Duration
	FailureBackoff time.Duration
	Clock          func() time.Time
	Logger         *logger.Logger
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	d := &Dispatcher{
		campaigns: deps.Campaigns,
		hours:     deps.BusinessHours,
		leads:     deps.Leads,
		numbers:   deps.Numbers,
		attempts:  deps.Attempts,
		stats:     deps.Stats,
		gate:      deps.Gate,
		provider:  deps.Provider,
		events:    deps.Events,
		cooldown:  deps.NumberCooldown,
		backoff:   deps.FailureBackoff,
		now:       deps.Clock,
		logger:    deps.Logger,
	}
	if d.events == nil {
		d.events = events.Nop{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = logger.NewNop()
	}
	if d.cooldown <= 0 {
		d.cooldown = 2 * time.Minute
	}
	if d.backoff <= 0 {
		d.backoff = 24 * time.Hour
	}
	return d
}

// LoadCampaign fetches a campaign with its calling-hours windows.
func (d *Dispatcher) LoadCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := d.campaigns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load campaign: %w", err)
	}
	if d.hours != nil {
		windows, err := d.hours.List(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("dispatch: load calling hours: %w", err)
		}
		campaign.BusinessHours = windows
	}
	return campaign, nil
}

// DispatchLeadByID is the job entry point: it resolves the lead, campaign and a
// free number, then dispatches. Missing records are data errors.
func (d *Dispatcher) DispatchLeadByID(ctx context.Context, leadID uuid.UUID, progress ProgressFunc) (Result, error) {
	lead, err := d.leads.Get(ctx, leadID)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: load lead: %w", err)
	}
	campaign, err := d.LoadCampaign(ctx, lead.CampaignID)
	if err != nil {
		return Result{}, err
	}
	if !campaign.Dialable() {
		return Result{Outcome: OutcomeSkipped}, fmt.Errorf("dispatch: %w: campaign %s is not dialable", apperrors.ErrValidation, campaign.ID)
	}
	if !isDialable(lead.Status) || lead.DNCStatus {
		return Result{Outcome: OutcomeSkipped}, fmt.Errorf("dispatch: %w: lead %s is %s", apperrors.ErrValidation, lead.ID, lead.Status)
	}

	numbers, err := d.numbers.ListAvailable(ctx, campaign.ID, d.now().UTC(), 1)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: load numbers: %w", err)
	}
	if len(numbers) == 0 {
		return Result{}, fmt.Errorf("dispatch: %w: no outbound number available for campaign %s", apperrors.ErrUnavailable, campaign.ID)
	}
	report(progress, StageLookup, 0.25)

	return d.Dispatch(ctx, campaign, lead, numbers[0], progress)
}

// Dispatch runs one lead through compliance and on to the provider.
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *domain.Campaign, lead *domain.Lead, number domain.OutboundNumber, progress ProgressFunc) (Result, error) {
	ctx, span := otel.Tracer("dialer.dispatch").Start(ctx, "dispatch.lead", trace.WithAttributes(
		attribute.String("campaign.id", campaign.ID.String()),
		attribute.String("lead.id", lead.ID.String()),
		attribute.String("number.id", number.ID.String()),
	))
	defer span.End()
	log := &logger.Logger{Logger: d.logger.WithContext(ctx).With(zap.String("campaign_id", campaign.ID.String()), zap.String("lead_id", lead.ID.String()))}

	decision := d.gate.Check(ctx, lead, campaign)
	report(progress, StageCompliance, 0.5)
	if !decision.Allowed {
		return d.block(ctx, log, campaign, lead, decision)
	}
	if decision.Degraded {
		events.Emit(ctx, d.events, d.logger, domain.NewAlert(campaign.AccountID, domain.SeverityHigh,
			domain.AlertComplianceDegraded, "compliance check failed open", map[string]any{
				"campaign_id": campaign.ID.String(),
				"lead_id":     lead.ID.String(),
				"reason":      decision.Reason,
			}))
	}

	now := d.now().UTC()
	attempt := &domain.CallAttempt{
		ID:         uuid.New(),
		LeadID:     lead.ID,
		CampaignID: campaign.ID,
		AccountID:  campaign.AccountID,
		NumberID:   number.ID,
		CreatedAt:  now,
	}
	if err := d.attempts.CreateForDispatch(ctx, attempt, now.Add(d.cooldown)); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			log.Info("dispatch: lead already has a live attempt")
			return Result{Outcome: OutcomeSkipped, Decision: decision}, nil
		}
		span.RecordError(err)
		return Result{Decision: decision}, fmt.Errorf("dispatch: create attempt: %w", err)
	}
	span.SetAttributes(attribute.String("attempt.id", attempt.ID.String()))

	providerCallID, err := d.provider.PlaceCall(ctx, telephony.CallRequest{
		To:      lead.PhoneNumber,
		From:    number.PhoneNumber,
		AgentID: campaign.AgentID,
		Metadata: map[string]string{
			"attemptId":  attempt.ID.String(),
			"leadId":     lead.ID.String(),
			"campaignId": campaign.ID.String(),
			"accountId":  campaign.AccountID.String(),
		},
	})
	report(progress, StageDispatch, 0.75)
	if err != nil {
		span.RecordError(err)
		log.Warn("dispatch: provider rejected call", zap.String("attempt_id", attempt.ID.String()), zap.Error(err))
		if markErr := d.attempts.MarkDispatchFailed(ctx, attempt.ID, err.Error(), now.Add(d.backoff)); markErr != nil {
			log.Error("dispatch: mark attempt failed", zap.Error(markErr))
		}
		events.Emit(ctx, d.events, d.logger, domain.NewEvent(domain.EventCallDispatchFailed, campaign.AccountID, map[string]any{
			"attempt_id": attempt.ID.String(),
			"lead_id":    lead.ID.String(),
			"error":      err.Error(),
		}).ForCampaign(campaign.ID))
		events.Emit(ctx, d.events, d.logger, dispatchAlert(campaign, lead, attempt.ID, err))
		report(progress, StageRecord, 1)
		return Result{Outcome: OutcomeFailed, AttemptID: attempt.ID, Decision: decision}, fmt.Errorf("dispatch: place call: %w", err)
	}

	if err := d.attempts.MarkDispatched(ctx, attempt.ID, providerCallID); err != nil {
		span.RecordError(err)
		return Result{Outcome: OutcomeDispatched, AttemptID: attempt.ID, ProviderCallID: providerCallID, Decision: decision},
			fmt.Errorf("dispatch: record provider call: %w", err)
	}
	report(progress, StageRecord, 1)

	log.Info("dispatch: call placed", zap.String("attempt_id", attempt.ID.String()), zap.String("provider_call_id", providerCallID))
	events.Emit(ctx, d.events, d.logger, domain.NewEvent(domain.EventCallDispatched, campaign.AccountID, map[string]any{
		"attempt_id":     attempt.ID.String(),
		"attempt_number": attempt.AttemptNumber,
		"lead_id":        lead.ID.String(),
		"number_id":      number.ID.String(),
		"degraded":       decision.Degraded,
	}).ForCampaign(campaign.ID).ForCall(providerCallID))

	return Result{Outcome: OutcomeDispatched, AttemptID: attempt.ID, ProviderCallID: providerCallID, Decision: decision}, nil
}

func (d *Dispatcher) block(ctx context.Context, log *logger.Logger, campaign *domain.Campaign, lead *domain.Lead, decision domain.Decision) (Result, error) {
	log.Info("dispatch: compliance blocked lead", zap.String("reason", decision.Reason))
	if decision.BlockedUntil != nil {
		if err := d.leads.Defer(ctx, lead.ID, *decision.BlockedUntil); err != nil {
			log.Error("dispatch: defer blocked lead", zap.Error(err))
		}
	}
	if err := d.stats.ApplyDelta(ctx, campaign.ID, repository.StatsDelta{ComplianceBlocksDelta: 1}); err != nil {
		log.Warn("dispatch: count compliance block", zap.Error(err))
	}

	payload := map[string]any{
		"lead_id":    lead.ID.String(),
		"reason":     decision.Reason,
		"score":      decision.Score,
		"violations": decision.Violations,
	}
	if decision.BlockedUntil != nil {
		payload["blocked_until"] = decision.BlockedUntil.UTC().Format(time.RFC3339)
	}
	events.Emit(ctx, d.events, d.logger, domain.NewEvent(domain.EventComplianceBlocked, campaign.AccountID, payload).ForCampaign(campaign.ID))
	return Result{Outcome: OutcomeBlocked, Decision: decision}, nil
}

// dispatchAlert is high when the provider is unreachable or its breaker is
// open, medium for a single rejected call.
func dispatchAlert(campaign *domain.Campaign, lead *domain.Lead, attemptID uuid.UUID, err error) domain.Event {
	severity, kind, message := domain.SeverityMedium, domain.AlertDispatchFailed, "provider rejected call"
	if errors.Is(err, apperrors.ErrUnavailable) {
		severity, kind, message = domain.SeverityHigh, domain.AlertProviderUnavailable, "telephony provider unavailable"
	}
	return domain.NewAlert(campaign.AccountID, severity, kind, message, map[string]any{
		"campaign_id": campaign.ID.String(),
		"lead_id":     lead.ID.String(),
		"attempt_id":  attemptID.String(),
		"error":       err.Error(),
	})
}

func isDialable(status domain.LeadStatus) bool {
	for _, s := range domain.DialableLeadStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func report(progress ProgressFunc, stage string, fraction float64) {
	if progress != nil {
		progress(stage, fraction)
	}
}
