package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
	"github.com/acme/voice-dialer/internal/repository"
	"github.com/acme/voice-dialer/pkg/logger"
)

// Deduper is the fast-path cache of processed keys.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// AnalysisQueue schedules post-call analysis.
type AnalysisQueue interface {
	EnqueueAnalyzeCall(ctx context.Context, attemptID uuid.UUID) error
}

// StatusQueue schedules a provider lookup for one attempt.
type StatusQueue interface {
	EnqueueUpdateCallStatus(ctx context.Context, attemptID uuid.UUID) error
}

// Delivery is one verified callback as it left the ingress.
type Delivery struct {
	EventID    string
	Body       []byte
	ReceivedAt time.Time
}

// Deps wires a Machine. Dedup, Analysis, StatusChecks, Transcripts and Events
// are optional.
type Deps struct {
	Attempts     repository.AttemptRepository
	Leads        repository.LeadRepository
	Campaigns    repository.CampaignRepository
	Processed    repository.ProcessedEventStore
	Audit        repository.WebhookEventStore
	Transcripts  repository.TranscriptStore
	Dedup        Deduper
	Analysis     AnalysisQueue
	StatusChecks StatusQueue
	Events       events.Publisher
	Clock        func() time.Time
	Logger       *logger.Logger
}

// Machine applies provider callbacks to attempts and leads. Every delivery is
// safe to replay: status changes are forward-only and terminal effects commit
// together with the idempotency key.
type Machine struct {
	attempts    repository.AttemptRepository
	leads       repository.LeadRepository
	campaigns   repository.CampaignRepository
	processed   repository.ProcessedEventStore
	audit       repository.WebhookEventStore
	transcripts repository.TranscriptStore
	dedup       Deduper
	analysis    AnalysisQueue
	status      StatusQueue
	events      events.Publisher
	now         func() time.Time
	logger      *logger.Logger
}

// NewMachine constructs the state machine.
func NewMachine(deps Deps) *Machine {
	m := &Machine{
		attempts:    deps.Attempts,
		leads:       deps.Leads,
		campaigns:   deps.Campaigns,
		processed:   deps.Processed,
		audit:       deps.Audit,
		transcripts: deps.Transcripts,
		dedup:       deps.Dedup,
		analysis:    deps.Analysis,
		status:      deps.StatusChecks,
		events:      deps.Events,
		now:         deps.Clock,
		logger:      deps.Logger,
	}
	if m.events == nil {
		m.events = events.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = logger.NewNop()
	}
	return m
}

// Handle processes one delivery. A returned error means the effects did not
// commit and the delivery may be retried; malformed payloads are audited and
// dropped without an error.
func (m *Machine) Handle(ctx context.Context, d Delivery) (domain.WebhookOutcome, error) {
	ctx, span := otel.Tracer("dialer.webhook").Start(ctx, "webhook.handle")
	defer span.End()

	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = m.now().UTC()
	}

	ev, err := Parse(d.Body)
	if err != nil {
		span.RecordError(err)
		m.record(ctx, domain.WebhookEvent{
			Outcome:    domain.WebhookOutcomeFailed,
			Error:      err.Error(),
			Payload:    string(d.Body),
			ReceivedAt: receivedAt,
		})
		return domain.WebhookOutcomeFailed, nil
	}

	key := IdempotencyKey(d.EventID, ev, d.Body)
	span.SetAttributes(
		attribute.String("webhook.type", ev.Type),
		attribute.String("call.id", ev.Call.ID),
		attribute.String("webhook.key", key),
	)
	log := &logger.Logger{Logger: m.logger.WithContext(ctx).With(zap.String("type", ev.Type), zap.String("provider_call_id", ev.Call.ID), zap.String("key", key))}

	audit := domain.WebhookEvent{
		ProviderCallID: ev.Call.ID,
		Type:           ev.Type,
		IdempotencyKey: key,
		Payload:        string(d.Body),
		ReceivedAt:     receivedAt,
	}

	if m.seen(ctx, log, key) {
		audit.Outcome = domain.WebhookOutcomeDuplicate
		m.record(ctx, audit)
		return audit.Outcome, nil
	}

	outcome, err := m.apply(ctx, log, key, ev, receivedAt)
	if err != nil {
		span.RecordError(err)
		log.Warn("webhook: apply event", zap.Error(err))
		audit.Outcome = domain.WebhookOutcomeFailed
		audit.Error = err.Error()
		m.record(ctx, audit)
		return audit.Outcome, err
	}

	if outcome == domain.WebhookOutcomeProcessed || outcome == domain.WebhookOutcomeDuplicate {
		m.mark(ctx, log, key)
	}
	audit.Outcome = outcome
	m.record(ctx, audit)
	log.Debug("webhook: handled", zap.String("outcome", string(outcome)))
	return outcome, nil
}

func (m *Machine) apply(ctx context.Context, log *logger.Logger, key string, ev *Event, receivedAt time.Time) (domain.WebhookOutcome, error) {
	switch ev.Type {
	case TypeCallStart, TypeSpeechUpdate, TypeCallEnd, TypeError, TypeTranscript, TypeToolCall, TypeFunctionCall, TypeHang:
	default:
		log.Info("webhook: unhandled event type")
		return domain.WebhookOutcomeIgnored, nil
	}

	attempt, err := m.lookup(ctx, ev)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("webhook: no attempt for call")
			return domain.WebhookOutcomeIgnored, nil
		}
		return "", err
	}
	at := ev.OccurredAt(receivedAt)

	switch ev.Type {
	case TypeCallStart:
		return m.advance(ctx, key, ev, attempt, domain.AttemptStatusRinging, at, domain.EventCallStarted, false)
	case TypeSpeechUpdate:
		return m.advance(ctx, key, ev, attempt, domain.AttemptStatusConnected, at, domain.EventSpeechUpdate, true)
	case TypeCallEnd, TypeError:
		return m.finish(ctx, log, key, ev, attempt, at)
	case TypeTranscript:
		return m.transcript(ctx, key, ev, attempt, at)
	case TypeToolCall, TypeFunctionCall:
		return m.tool(ctx, log, key, ev, attempt)
	default:
		return m.once(ctx, key, ev, attempt, func() {
			m.emit(ctx, domain.EventCallHang, ev, attempt, map[string]any{"status": string(attempt.Status)})
			m.checkStatus(ctx, log, attempt)
		})
	}
}

// checkStatus asks for a provider lookup on a stalled call, so an end the
// provider never reported still closes the attempt.
func (m *Machine) checkStatus(ctx context.Context, log *logger.Logger, attempt *domain.CallAttempt) {
	if m.status == nil || attempt.Status.Terminal() {
		return
	}
	if err := m.status.EnqueueUpdateCallStatus(ctx, attempt.ID); err != nil {
		log.Warn("webhook: enqueue status check", zap.String("attempt_id", attempt.ID.String()), zap.Error(err))
	}
}

// advance nudges the attempt forward. Speech updates are broadcast even when
// the attempt is already past the target status.
func (m *Machine) advance(ctx context.Context, key string, ev *Event, attempt *domain.CallAttempt, to domain.AttemptStatus, at time.Time, event domain.EventType, always bool) (domain.WebhookOutcome, error) {
	applied, err := m.attempts.Advance(ctx, repository.Transition{
		IdempotencyKey: key,
		EventType:      ev.Type,
		AttemptID:      attempt.ID,
		ProviderCallID: ev.Call.ID,
		To:             to,
		OccurredAt:     at,
	})
	if err != nil {
		return "", fmt.Errorf("webhook: advance to %s: %w", to, err)
	}
	if applied || always {
		payload := map[string]any{"attempt_id": attempt.ID.String(), "status": string(to)}
		if ev.Type == TypeSpeechUpdate {
			payload["speaker_status"] = ev.Status
			payload["role"] = ev.Role
		}
		m.emit(ctx, event, ev, attempt, payload)
	}
	if !applied {
		return domain.WebhookOutcomeIgnored, nil
	}
	return domain.WebhookOutcomeProcessed, nil
}

func (m *Machine) finish(ctx context.Context, log *logger.Logger, key string, ev *Event, attempt *domain.CallAttempt, endedAt time.Time) (domain.WebhookOutcome, error) {
	lead, err := m.leads.Get(ctx, attempt.LeadID)
	if err != nil {
		return "", fmt.Errorf("webhook: load lead: %w", err)
	}
	maxAttempts := 0
	if m.campaigns != nil {
		campaign, err := m.campaigns.Get(ctx, attempt.CampaignID)
		if err != nil {
			return "", fmt.Errorf("webhook: load campaign: %w", err)
		}
		maxAttempts = campaign.MaxAttemptsPerLead
	}

	outcome := BuildOutcome(key, ev, attempt, lead, maxAttempts, endedAt)
	applied, err := m.attempts.Finalize(ctx, outcome)
	if err != nil {
		return "", fmt.Errorf("webhook: finalize: %w", err)
	}
	if !applied {
		return domain.WebhookOutcomeDuplicate, nil
	}

	if outcome.Transcript != "" && m.analysis != nil {
		if err := m.analysis.EnqueueAnalyzeCall(ctx, attempt.ID); err != nil {
			log.Error("webhook: enqueue analysis", zap.String("attempt_id", attempt.ID.String()), zap.Error(err))
		}
	}

	payload := map[string]any{
		"attempt_id":   attempt.ID.String(),
		"lead_id":      attempt.LeadID.String(),
		"status":       string(outcome.Status),
		"ended_reason": outcome.EndedReason,
		"duration":     outcome.DurationSeconds,
		"cost":         outcome.Cost,
		"lead_status":  string(outcome.LeadStatus),
	}
	if ev.Type == TypeError {
		payload["error"] = outcome.Error
		m.emit(ctx, domain.EventCallError, ev, attempt, payload)
	} else {
		m.emit(ctx, domain.EventCallEnded, ev, attempt, payload)
	}
	return domain.WebhookOutcomeProcessed, nil
}

func (m *Machine) transcript(ctx context.Context, key string, ev *Event, attempt *domain.CallAttempt, at time.Time) (domain.WebhookOutcome, error) {
	text := ev.Transcript
	if text == "" {
		text = ev.Call.Transcript
	}
	if text == "" {
		return domain.WebhookOutcomeIgnored, nil
	}
	segment := domain.TranscriptSegment{
		ProviderCallID: callRef(ev, attempt),
		Role:           ev.Role,
		Text:           text,
		Final:          ev.TranscriptType == "" || ev.TranscriptType == "final",
		ReceivedAt:     at,
	}
	return m.once(ctx, key, ev, attempt, func() {
		if m.transcripts != nil {
			if err := m.transcripts.AppendSegment(ctx, segment); err != nil {
				m.logger.WithContext(ctx).Warn("webhook: append transcript", zap.Error(err))
			}
		}
		m.emit(ctx, domain.EventTranscriptSegment, ev, attempt, map[string]any{
			"attempt_id": attempt.ID.String(),
			"role":       segment.Role,
			"text":       segment.Text,
			"final":      segment.Final,
		})
	})
}

func (m *Machine) tool(ctx context.Context, log *logger.Logger, key string, ev *Event, attempt *domain.CallAttempt) (domain.WebhookOutcome, error) {
	call := ev.Tool()
	if call == nil {
		log.Info("webhook: tool event without a call")
		return domain.WebhookOutcomeIgnored, nil
	}
	name := toolName(call.Name)
	fn, ok := tools[name]
	if !ok {
		log.Info("webhook: unknown tool", zap.String("tool", call.Name))
		return domain.WebhookOutcomeIgnored, nil
	}
	args, err := call.Args()
	if err != nil {
		return "", err
	}

	// claim the key before touching the lead
	fresh, err := m.processed.Record(ctx, key, callRef(ev, attempt), ev.Type)
	if err != nil {
		return "", fmt.Errorf("webhook: record event: %w", err)
	}
	if !fresh {
		return domain.WebhookOutcomeDuplicate, nil
	}
	res, err := fn(ctx, m, attempt, args)
	if err != nil {
		if ferr := m.processed.Forget(ctx, key); ferr != nil {
			log.Error("webhook: release event key", zap.Error(ferr))
		}
		return "", err
	}
	res.payload["tool"] = name
	m.emit(ctx, res.event, ev, attempt, res.payload)
	return domain.WebhookOutcomeProcessed, nil
}

// once records key for events whose effects are not transactional and runs
// fn only for the first delivery.
func (m *Machine) once(ctx context.Context, key string, ev *Event, attempt *domain.CallAttempt, fn func()) (domain.WebhookOutcome, error) {
	fresh, err := m.processed.Record(ctx, key, callRef(ev, attempt), ev.Type)
	if err != nil {
		return "", fmt.Errorf("webhook: record event: %w", err)
	}
	if !fresh {
		return domain.WebhookOutcomeDuplicate, nil
	}
	fn()
	return domain.WebhookOutcomeProcessed, nil
}

// lookup resolves the attempt by provider call id, then by the attempt id the
// dispatcher put in the call metadata.
func (m *Machine) lookup(ctx context.Context, ev *Event) (*domain.CallAttempt, error) {
	if ev.Call.ID != "" {
		attempt, err := m.attempts.GetByProviderCallID(ctx, ev.Call.ID)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("webhook: load attempt: %w", err)
		}
	}
	id := ev.AttemptID()
	if id == uuid.Nil {
		return nil, repository.ErrNotFound
	}
	attempt, err := m.attempts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("webhook: load attempt: %w", err)
	}
	return attempt, nil
}

func (m *Machine) seen(ctx context.Context, log *logger.Logger, key string) bool {
	if m.dedup != nil {
		hit, err := m.dedup.Seen(ctx, key)
		if err != nil {
			log.Warn("webhook: dedup cache", zap.Error(err))
		} else if hit {
			return true
		}
	}
	exists, err := m.processed.Exists(ctx, key)
	if err != nil {
		log.Warn("webhook: processed lookup", zap.Error(err))
		return false
	}
	return exists
}

func (m *Machine) mark(ctx context.Context, log *logger.Logger, key string) {
	if m.dedup == nil {
		return
	}
	if err := m.dedup.Mark(ctx, key); err != nil {
		log.Warn("webhook: dedup mark", zap.Error(err))
	}
}

func (m *Machine) record(ctx context.Context, event domain.WebhookEvent) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Append(ctx, event); err != nil {
		m.logger.WithContext(ctx).Warn("webhook: audit append", zap.String("outcome", string(event.Outcome)), zap.Error(err))
	}
}

func (m *Machine) emit(ctx context.Context, t domain.EventType, ev *Event, attempt *domain.CallAttempt, payload map[string]any) {
	event := domain.NewEvent(t, attempt.AccountID, payload).ForCampaign(attempt.CampaignID).ForCall(callRef(ev, attempt))
	events.Emit(ctx, m.events, m.logger, event)
}

func callRef(ev *Event, attempt *domain.CallAttempt) string {
	if ev.Call.ID != "" {
		return ev.Call.ID
	}
	if attempt.ProviderCallID != nil {
		return *attempt.ProviderCallID
	}
	return attempt.ID.String()
}

// Reconcile applies the provider's own record of a finished call as if its
// call-end had arrived. It shares the call-end key, so a late webhook for the
// same call is a duplicate.
func (m *Machine) Reconcile(ctx context.Context, attempt *domain.CallAttempt, call Call, endedAt time.Time) (bool, error) {
	if call.ID == "" && attempt.ProviderCallID != nil {
		call.ID = *attempt.ProviderCallID
	}
	ev := &Event{Type: TypeCallEnd, Call: call}
	return m.close(ctx, IdempotencyKey("", ev, nil), ev, attempt, endedAt)
}

// Expire force-closes an attempt the provider no longer knows about.
func (m *Machine) Expire(ctx context.Context, attempt *domain.CallAttempt, reason string) (bool, error) {
	call := Call{Status: string(domain.AttemptStatusFailed), EndedReason: reason}
	if attempt.ProviderCallID != nil {
		call.ID = *attempt.ProviderCallID
	}
	ev := &Event{Type: TypeCallEnd, Call: call}
	return m.close(ctx, "expire:"+attempt.ID.String(), ev, attempt, m.now().UTC())
}

func (m *Machine) close(ctx context.Context, key string, ev *Event, attempt *domain.CallAttempt, endedAt time.Time) (bool, error) {
	log := &logger.Logger{Logger: m.logger.WithContext(ctx).With(zap.String("attempt_id", attempt.ID.String()), zap.String("key", key))}
	outcome, err := m.finish(ctx, log, key, ev, attempt, endedAt)
	if err != nil {
		return false, err
	}
	if outcome != domain.WebhookOutcomeProcessed {
		return false, nil
	}
	m.mark(ctx, log, key)
	m.record(ctx, domain.WebhookEvent{
		ProviderCallID: callRef(ev, attempt),
		Type:           ev.Type,
		IdempotencyKey: key,
		Outcome:        outcome,
		ReceivedAt:     endedAt,
	})
	return true, nil
}
