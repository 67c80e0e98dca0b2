package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/analysis"
	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/dispatch"
	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
	"github.com/acme/voice-dialer/internal/repository"
	"github.com/acme/voice-dialer/internal/telephony"
	"github.com/acme/voice-dialer/internal/webhook"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
	"github.com/acme/voice-dialer/pkg/logger"
)

// CleanupReason is written to attempts force-closed by the sweep.
const CleanupReason = "stale_cleanup"

const (
	sweepLimit          = 100
	analysisCallbackGap = 24 * time.Hour
	qualifiedScore      = 70
)

// Dispatcher runs the make-call pipeline for one lead.
type Dispatcher interface {
	DispatchLeadByID(ctx context.Context, leadID uuid.UUID, progress dispatch.ProgressFunc) (dispatch.Result, error)
}

// Reconciler closes attempts out of band.
type Reconciler interface {
	Reconcile(ctx context.Context, attempt *domain.CallAttempt, call webhook.Call, endedAt time.Time) (bool, error)
	Expire(ctx context.Context, attempt *domain.CallAttempt, reason string) (bool, error)
}

// Enqueuer schedules follow-up jobs.
type Enqueuer interface {
	EnqueueRetryCall(ctx context.Context, leadID uuid.UUID, reason string, delay time.Duration) error
	EnqueueProcessCallback(ctx context.Context, leadID uuid.UUID) error
}

// Deps wires the task handlers.
type Deps struct {
	Dispatcher Dispatcher
	Reconciler Reconciler
	Enqueuer   Enqueuer
	Attempts   repository.AttemptRepository
	Leads      repository.LeadRepository
	Numbers    repository.NumberRepository
	Provider   telephony.Provider
	Analyzer   analysis.Analyzer
	Events     events.Publisher
	Metrics    *Metrics
	Config     config.JobsConfig
	Clock      func() time.Time
	Logger     *logger.Logger
}

// Handlers implements every dialer task.
type Handlers struct {
	Deps
	retries func(ctx context.Context) (retried, maxRetry int)
}

// NewHandlers constructs the handler set.
func NewHandlers(deps Deps) *Handlers {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Config.StaleThreshold <= 0 {
		deps.Config.StaleThreshold = 2 * time.Hour
	}
	if deps.Config.CampaignRetryDelay <= 0 {
		deps.Config.CampaignRetryDelay = time.Hour
	}
	return &Handlers{Deps: deps, retries: taskRetries}
}

func taskRetries(ctx context.Context) (int, int) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = makeCallRetries
	}
	return retried, maxRetry
}

// Register mounts the handlers on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.Use(h.observe)
	mux.HandleFunc(TypeMakeCall, h.MakeCall)
	mux.HandleFunc(TypeRetryCall, h.RetryCall)
	mux.HandleFunc(TypeAnalyzeCall, h.AnalyzeCall)
	mux.HandleFunc(TypeUpdateCallStatus, h.UpdateCallStatus)
	mux.HandleFunc(TypeProcessCallback, h.ProcessCallback)
	mux.HandleFunc(TypeCleanupStaleCalls, h.CleanupStaleCalls)
	mux.HandleFunc(TypeSweepCallbacks, h.SweepCallbacks)
	mux.HandleFunc(TypeResetDailyNumbers, h.ResetDailyNumbers)
}

func (h *Handlers) observe(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		ctx, span := otel.Tracer("dialer.jobs").Start(ctx, "job."+task.Type())
		defer span.End()
		if id, ok := asynq.GetTaskID(ctx); ok {
			span.SetAttributes(attribute.String("job.id", id))
		}

		start := time.Now()
		err := next.ProcessTask(ctx, task)
		h.Metrics.duration.WithLabelValues(task.Type()).Observe(time.Since(start).Seconds())

		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		h.Metrics.processed.WithLabelValues(task.Type(), result).Inc()
		return err
	})
}

// MakeCall dispatches a lead. When the last retry fails with a transient
// error, a retry-call is scheduled after the campaign retry delay.
func (h *Handlers) MakeCall(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[LeadPayload](task)
	if err != nil {
		return err
	}
	err = h.dispatchLead(ctx, task, payload.LeadID)
	if err == nil || apperrors.IsDataError(err) {
		return skipRetry(err)
	}

	retried, maxRetry := h.retries(ctx)
	if retried >= maxRetry && IsTransient(err) && h.Enqueuer != nil {
		if qerr := h.Enqueuer.EnqueueRetryCall(ctx, payload.LeadID, err.Error(), h.Config.CampaignRetryDelay); qerr != nil {
			h.Logger.WithContext(ctx).Error("jobs: schedule retry-call", zap.String("lead_id", payload.LeadID.String()), zap.Error(qerr))
		} else {
			h.Logger.WithContext(ctx).Info("jobs: make-call exhausted, retry scheduled",
				zap.String("lead_id", payload.LeadID.String()),
				zap.Duration("delay", h.Config.CampaignRetryDelay))
		}
	}
	return err
}

// RetryCall re-runs the make-call pipeline once.
func (h *Handlers) RetryCall(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[LeadPayload](task)
	if err != nil {
		return err
	}
	return skipRetry(h.dispatchLead(ctx, task, payload.LeadID))
}

// ProcessCallback dispatches a due callback lead.
func (h *Handlers) ProcessCallback(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[LeadPayload](task)
	if err != nil {
		return err
	}
	return skipRetry(h.dispatchLead(ctx, task, payload.LeadID))
}

func (h *Handlers) dispatchLead(ctx context.Context, task *asynq.Task, leadID uuid.UUID) error {
	lead, err := h.Leads.Get(ctx, leadID)
	if err != nil {
		return fmt.Errorf("jobs: load lead: %w", err)
	}
	res, err := h.Dispatcher.DispatchLeadByID(ctx, leadID, h.progress(ctx, task, lead))
	if err != nil {
		return err
	}
	h.Logger.WithContext(ctx).Info("jobs: lead dispatched",
		zap.String("lead_id", leadID.String()),
		zap.String("outcome", string(res.Outcome)),
		zap.String("provider_call_id", res.ProviderCallID))
	return nil
}

// progress reports through the task result and the event bus.
func (h *Handlers) progress(ctx context.Context, task *asynq.Task, lead *domain.Lead) dispatch.ProgressFunc {
	jobID, _ := asynq.GetTaskID(ctx)
	return func(stage string, fraction float64) {
		if w := task.ResultWriter(); w != nil {
			if data, err := json.Marshal(map[string]any{"stage": stage, "progress": fraction}); err == nil {
				_, _ = w.Write(data)
			}
		}
		events.Emit(ctx, h.Events, h.Logger, domain.NewEvent(domain.EventJobProgress, lead.AccountID, map[string]any{
			"job_id":   jobID,
			"job_type": task.Type(),
			"lead_id":  lead.ID.String(),
			"stage":    stage,
			"progress": fraction,
		}).ForCampaign(lead.CampaignID))
	}
}

// AnalyzeCall scores a finished call and applies the verdict to the lead.
func (h *Handlers) AnalyzeCall(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[AttemptPayload](task)
	if err != nil {
		return err
	}
	attempt, err := h.Attempts.Get(ctx, payload.AttemptID)
	if err != nil {
		return skipRetry(fmt.Errorf("jobs: load attempt: %w", err))
	}
	if attempt.Transcript == "" {
		return nil
	}
	lead, err := h.Leads.Get(ctx, attempt.LeadID)
	if err != nil {
		return skipRetry(fmt.Errorf("jobs: load lead: %w", err))
	}

	callID := attempt.ID.String()
	if attempt.ProviderCallID != nil {
		callID = *attempt.ProviderCallID
	}
	result, err := h.Analyzer.Analyze(ctx, analysis.Request{
		CallID:     callID,
		Transcript: attempt.Transcript,
		Duration:   attempt.DurationSeconds,
		LeadID:     lead.ID,
		CampaignID: lead.CampaignID,
	})
	if err != nil {
		return skipRetry(err)
	}

	status := verdict(result, lead.Status)
	if err := h.Leads.ApplyQualification(ctx, lead.ID, result.Score, status); err != nil {
		return fmt.Errorf("jobs: apply qualification: %w", err)
	}
	if status != nil && *status == domain.LeadStatusCallback {
		next := h.Clock().UTC().Add(analysisCallbackGap)
		if err := h.Leads.UpdateStatus(ctx, lead.ID, domain.LeadStatusCallback, &next); err != nil {
			return fmt.Errorf("jobs: schedule callback: %w", err)
		}
	}

	applied := ""
	if status != nil {
		applied = string(*status)
	}
	events.Emit(ctx, h.Events, h.Logger, domain.NewEvent(domain.EventAnalysisCompleted, lead.AccountID, map[string]any{
		"attempt_id":  attempt.ID.String(),
		"lead_id":     lead.ID.String(),
		"score":       result.Score,
		"action":      result.Action,
		"summary":     result.Summary,
		"lead_status": applied,
	}).ForCampaign(lead.CampaignID).ForCall(callID))
	return nil
}

// verdict maps the analysis action onto a lead status. A qualified lead is
// never downgraded, and an unknown action leaves the status alone.
func verdict(result *analysis.Result, current domain.LeadStatus) *domain.LeadStatus {
	var next domain.LeadStatus
	switch strings.ToLower(strings.ReplaceAll(result.Action, "-", "_")) {
	case "qualified", "qualify", "book_appointment":
		next = domain.LeadStatusQualified
	case "unqualified", "disqualify", "not_interested", "do_not_call":
		next = domain.LeadStatusUnqualified
	case "callback", "schedule_callback", "follow_up":
		next = domain.LeadStatusCallback
	default:
		if result.Action == "" && result.Score >= qualifiedScore {
			next = domain.LeadStatusQualified
		} else {
			return nil
		}
	}
	if current == domain.LeadStatusQualified && next != domain.LeadStatusQualified {
		return nil
	}
	return &next
}

// UpdateCallStatus asks the provider about one attempt and applies a finished call.
func (h *Handlers) UpdateCallStatus(ctx context.Context, task *asynq.Task) error {
	payload, err := parsePayload[AttemptPayload](task)
	if err != nil {
		return err
	}
	attempt, err := h.Attempts.Get(ctx, payload.AttemptID)
	if err != nil {
		return skipRetry(fmt.Errorf("jobs: load attempt: %w", err))
	}
	if attempt.Status.Terminal() || attempt.ProviderCallID == nil {
		return nil
	}
	info, err := h.Provider.GetCall(ctx, *attempt.ProviderCallID)
	if err != nil {
		if errors.Is(err, telephony.ErrCallNotFound) {
			return nil
		}
		return fmt.Errorf("jobs: provider lookup: %w", err)
	}
	if !info.Ended() {
		return nil
	}
	if _, err := h.Reconciler.Reconcile(ctx, attempt, callFromInfo(info), endedAt(info, h.Clock())); err != nil {
		return fmt.Errorf("jobs: reconcile: %w", err)
	}
	return nil
}

// CleanupStaleCalls closes attempts stuck in a live status past the threshold,
// using the provider's record when it has one.
func (h *Handlers) CleanupStaleCalls(ctx context.Context, task *asynq.Task) error {
	now := h.Clock().UTC()
	stale, err := h.Attempts.ListStale(ctx, now.Add(-h.Config.StaleThreshold), sweepLimit)
	if err != nil {
		return fmt.Errorf("jobs: list stale attempts: %w", err)
	}
	log := h.Logger.WithContext(ctx)

	reconciled, expired := 0, 0
	for i := range stale {
		attempt := &stale[i]
		closedBy, err := h.closeStale(ctx, attempt, now)
		if err != nil {
			log.Warn("jobs: close stale attempt", zap.String("attempt_id", attempt.ID.String()), zap.Error(err))
			continue
		}
		switch closedBy {
		case "provider":
			reconciled++
		case "expired":
			expired++
		}
		if w := task.ResultWriter(); w != nil {
			if data, err := json.Marshal(map[string]any{"stage": "cleanup", "progress": float64(i+1) / float64(len(stale))}); err == nil {
				_, _ = w.Write(data)
			}
		}
	}
	h.Metrics.closed.Add(float64(reconciled + expired))
	if len(stale) > 0 {
		log.Info("jobs: stale sweep finished",
			zap.Int("stale", len(stale)),
			zap.Int("reconciled", reconciled),
			zap.Int("expired", expired))
	}
	return nil
}

func (h *Handlers) closeStale(ctx context.Context, attempt *domain.CallAttempt, now time.Time) (string, error) {
	if attempt.ProviderCallID != nil && h.Provider != nil {
		info, err := h.Provider.GetCall(ctx, *attempt.ProviderCallID)
		switch {
		case err == nil && info.Ended():
			ok, err := h.Reconciler.Reconcile(ctx, attempt, callFromInfo(info), endedAt(info, now))
			if err != nil || !ok {
				return "", err
			}
			return "provider", nil
		case err == nil:
			// the provider still reports the call as live
			return "", nil
		case !errors.Is(err, telephony.ErrCallNotFound):
			h.Logger.WithContext(ctx).Warn("jobs: provider lookup during cleanup",
				zap.String("attempt_id", attempt.ID.String()), zap.Error(err))
		}
	}
	ok, err := h.Reconciler.Expire(ctx, attempt, CleanupReason)
	if err != nil || !ok {
		return "", err
	}
	events.Emit(ctx, h.Events, h.Logger, domain.NewAlert(attempt.AccountID, domain.SeverityLow,
		domain.AlertStaleCallExpired, "stale call force-closed", map[string]any{
			"attempt_id":  attempt.ID.String(),
			"lead_id":     attempt.LeadID.String(),
			"campaign_id": attempt.CampaignID.String(),
			"reason":      CleanupReason,
		}))
	return "expired", nil
}

// SweepCallbacks queues a process-callback for every due callback lead.
func (h *Handlers) SweepCallbacks(ctx context.Context, _ *asynq.Task) error {
	leads, err := h.Leads.ListDueCallbacks(ctx, h.Clock().UTC(), sweepLimit)
	if err != nil {
		return fmt.Errorf("jobs: list due callbacks: %w", err)
	}
	for _, lead := range leads {
		if err := h.Enqueuer.EnqueueProcessCallback(ctx, lead.ID); err != nil {
			h.Logger.WithContext(ctx).Warn("jobs: enqueue callback", zap.String("lead_id", lead.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// ResetDailyNumbers zeroes the per-day number counters.
func (h *Handlers) ResetDailyNumbers(ctx context.Context, _ *asynq.Task) error {
	n, err := h.Numbers.ResetDaily(ctx)
	if err != nil {
		return fmt.Errorf("jobs: reset daily counters: %w", err)
	}
	h.Logger.WithContext(ctx).Info("jobs: daily number counters reset", zap.Int64("numbers", n))
	return nil
}

func callFromInfo(info *telephony.CallInfo) webhook.Call {
	return webhook.Call{
		ID:           info.ID,
		Status:       info.Status,
		Duration:     float64(info.DurationSeconds),
		Cost:         info.Cost,
		Transcript:   info.Transcript,
		RecordingURL: info.RecordingURL,
		EndedReason:  info.EndedReason,
	}
}

func endedAt(info *telephony.CallInfo, fallback time.Time) time.Time {
	if info.EndedAt != nil {
		return info.EndedAt.UTC()
	}
	return fallback.UTC()
}
