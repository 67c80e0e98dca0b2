package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/analysis"
	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/dispatch"
	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
	"github.com/acme/voice-dialer/internal/realtime"
	"github.com/acme/voice-dialer/internal/repository/memory"
	"github.com/acme/voice-dialer/internal/telephony"
	"github.com/acme/voice-dialer/internal/telephony/mock"
	"github.com/acme/voice-dialer/internal/webhook"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

var fixedNow = time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	err    error
	stages []string
	calls  []uuid.UUID
}

func (f *fakeDispatcher) DispatchLeadByID(_ context.Context, leadID uuid.UUID, progress dispatch.ProgressFunc) (dispatch.Result, error) {
	f.calls = append(f.calls, leadID)
	for _, stage := range f.stages {
		progress(stage, 0.5)
	}
	if f.err != nil {
		return dispatch.Result{}, f.err
	}
	return dispatch.Result{Outcome: dispatch.OutcomeDispatched, ProviderCallID: "call-1"}, nil
}

type retryCall struct {
	leadID uuid.UUID
	reason string
	delay  time.Duration
}

type fakeEnqueuer struct {
	mu           sync.Mutex
	retries      []retryCall
	callbacks    []uuid.UUID
	statusChecks []uuid.UUID
}

func (f *fakeEnqueuer) EnqueueRetryCall(_ context.Context, leadID uuid.UUID, reason string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, retryCall{leadID: leadID, reason: reason, delay: delay})
	return nil
}

func (f *fakeEnqueuer) EnqueueUpdateCallStatus(_ context.Context, attemptID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusChecks = append(f.statusChecks, attemptID)
	return nil
}

func (f *fakeEnqueuer) EnqueueProcessCallback(_ context.Context, leadID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, leadID)
	return nil
}

type fakeAnalyzer struct {
	result *analysis.Result
	err    error
	seen   []analysis.Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (*analysis.Result, error) {
	f.seen = append(f.seen, req)
	return f.result, f.err
}

type harness struct {
	store      *memory.Store
	provider   *mock.Provider
	dispatcher *fakeDispatcher
	enqueuer   *fakeEnqueuer
	analyzer   *fakeAnalyzer
	events     *events.Recorder
	machine    *webhook.Machine
	handlers   *Handlers
	campaign   domain.Campaign
	number     domain.OutboundNumber
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		store:      memory.NewStore(),
		provider:   mock.NewProvider(),
		dispatcher: &fakeDispatcher{},
		enqueuer:   &fakeEnqueuer{},
		analyzer:   &fakeAnalyzer{},
		events:     &events.Recorder{},
	}
	h.campaign = domain.Campaign{ID: uuid.New(), AccountID: uuid.New(), MaxAttemptsPerLead: 3, AgentID: "agent", Status: domain.CampaignStatusActive}
	require.NoError(t, h.store.Campaigns().Create(ctx, &h.campaign))
	require.NoError(t, h.store.Stats().Ensure(ctx, h.campaign.ID))

	h.number = domain.OutboundNumber{ID: uuid.New(), CampaignID: h.campaign.ID, PhoneNumber: "+16467360000", IsActive: true, HealthScore: 100}
	require.NoError(t, h.store.Numbers().Create(ctx, &h.number))

	clock := func() time.Time { return fixedNow }
	h.machine = webhook.NewMachine(webhook.Deps{
		Attempts:     h.store.Attempts(),
		Leads:        h.store.Leads(),
		Campaigns:    h.store.Campaigns(),
		Processed:    h.store.ProcessedEvents(),
		Audit:        h.store.WebhookEvents(),
		StatusChecks: h.enqueuer,
		Events:       h.events,
		Clock:        clock,
	})
	h.handlers = NewHandlers(Deps{
		Dispatcher: h.dispatcher,
		Reconciler: h.machine,
		Enqueuer:   h.enqueuer,
		Attempts:   h.store.Attempts(),
		Leads:      h.store.Leads(),
		Numbers:    h.store.Numbers(),
		Provider:   h.provider,
		Analyzer:   h.analyzer,
		Events:     h.events,
		Config:     config.JobsConfig{StaleThreshold: 2 * time.Hour, CampaignRetryDelay: time.Hour},
		Clock:      clock,
	})
	return h
}

func (h *harness) addLead(t *testing.T, n int, status domain.LeadStatus) domain.Lead {
	t.Helper()
	lead := domain.Lead{
		ID:          uuid.New(),
		CampaignID:  h.campaign.ID,
		AccountID:   h.campaign.AccountID,
		PhoneNumber: fmt.Sprintf("+1212736%04d", n),
		Status:      status,
	}
	require.NoError(t, h.store.Leads().BulkInsert(context.Background(), []domain.Lead{lead}))
	return lead
}

// addAttempt books a live attempt created at createdAt, dispatched as providerID when set.
func (h *harness) addAttempt(t *testing.T, lead domain.Lead, createdAt time.Time, providerID string) domain.CallAttempt {
	t.Helper()
	ctx := context.Background()
	attempt := domain.CallAttempt{
		ID:         uuid.New(),
		LeadID:     lead.ID,
		CampaignID: h.campaign.ID,
		AccountID:  h.campaign.AccountID,
		NumberID:   h.number.ID,
		CreatedAt:  createdAt,
	}
	require.NoError(t, h.store.Attempts().CreateForDispatch(ctx, &attempt, createdAt))
	if providerID != "" {
		require.NoError(t, h.store.Attempts().MarkDispatched(ctx, attempt.ID, providerID))
	}
	stored, err := h.store.Attempts().Get(ctx, attempt.ID)
	require.NoError(t, err)
	return *stored
}

func leadTask(t *testing.T, build func(uuid.UUID) (*asynq.Task, error), leadID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := build(leadID)
	require.NoError(t, err)
	return task
}

func TestMakeCallDispatchesLeadAndReportsProgress(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	h.dispatcher.stages = []string{dispatch.StageCompliance}

	err := h.handlers.MakeCall(context.Background(), leadTask(t, NewMakeCallTask, lead.ID))
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{lead.ID}, h.dispatcher.calls)
	progress := h.events.OfType(domain.EventJobProgress)
	require.Len(t, progress, 1)
	assert.Equal(t, dispatch.StageCompliance, progress[0].Payload["stage"])
	assert.Equal(t, lead.ID.String(), progress[0].Payload["lead_id"])
	require.NotNil(t, progress[0].CampaignID)
	assert.Equal(t, h.campaign.ID, *progress[0].CampaignID)
}

func TestMakeCallDataErrorSkipsRetry(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	h.dispatcher.err = fmt.Errorf("dispatch: %w: campaign paused", apperrors.ErrValidation)

	err := h.handlers.MakeCall(context.Background(), leadTask(t, NewMakeCallTask, lead.ID))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, h.enqueuer.retries)
}

func TestMakeCallUnknownLeadSkipsRetry(t *testing.T) {
	h := newHarness(t)

	err := h.handlers.MakeCall(context.Background(), leadTask(t, NewMakeCallTask, uuid.New()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.Empty(t, h.dispatcher.calls)
}

func TestMakeCallTransientErrorRetriesThenSchedulesRetryCall(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	h.dispatcher.err = fmt.Errorf("dispatch: %w: provider down", apperrors.ErrUnavailable)

	h.handlers.retries = func(context.Context) (int, int) { return 0, makeCallRetries }
	err := h.handlers.MakeCall(context.Background(), leadTask(t, NewMakeCallTask, lead.ID))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, h.enqueuer.retries, "retries remain, asynq handles it")

	h.handlers.retries = func(context.Context) (int, int) { return makeCallRetries, makeCallRetries }
	err = h.handlers.MakeCall(context.Background(), leadTask(t, NewMakeCallTask, lead.ID))
	require.Error(t, err)
	require.Len(t, h.enqueuer.retries, 1)
	assert.Equal(t, lead.ID, h.enqueuer.retries[0].leadID)
	assert.Equal(t, time.Hour, h.enqueuer.retries[0].delay)
	assert.Contains(t, h.enqueuer.retries[0].reason, "provider down")
}

func TestMakeCallPermanentErrorDoesNotScheduleRetryCall(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	h.dispatcher.err = errors.New("provider rejected the agent configuration")
	h.handlers.retries = func(context.Context) (int, int) { return makeCallRetries, makeCallRetries }

	err := h.handlers.MakeCall(context.Background(), leadTask(t, NewMakeCallTask, lead.ID))
	require.Error(t, err)
	assert.Empty(t, h.enqueuer.retries)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	h := newHarness(t)

	err := h.handlers.MakeCall(context.Background(), asynq.NewTask(TypeMakeCall, []byte("{not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestRetryAndCallbackTasksRunDispatch(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusCallback)

	retry, err := NewRetryCallTask(lead.ID, "provider down")
	require.NoError(t, err)
	require.NoError(t, h.handlers.RetryCall(context.Background(), retry))
	require.NoError(t, h.handlers.ProcessCallback(context.Background(), leadTask(t, NewProcessCallbackTask, lead.ID)))

	assert.Equal(t, []uuid.UUID{lead.ID, lead.ID}, h.dispatcher.calls)
}

func analyzeTask(t *testing.T, attemptID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := NewAnalyzeCallTask(attemptID)
	require.NoError(t, err)
	return task
}

// finishedAttempt books and completes an attempt with the given transcript.
func (h *harness) finishedAttempt(t *testing.T, lead domain.Lead, transcript string) domain.CallAttempt {
	t.Helper()
	attempt := h.addAttempt(t, lead, fixedNow.Add(-10*time.Minute), "call-"+lead.ID.String())
	ok, err := h.handlers.Reconciler.Reconcile(context.Background(), &attempt, webhook.Call{
		Status:      "ended",
		EndedReason: "customer-ended-call",
		Duration:    90,
		Transcript:  transcript,
	}, fixedNow)
	require.NoError(t, err)
	require.True(t, ok)
	return attempt
}

func TestAnalyzeCallQualifiesLead(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	attempt := h.finishedAttempt(t, lead, "AI: Interested? User: Yes, book me in.")
	h.analyzer.result = &analysis.Result{Score: 88, Action: "qualified", Summary: "wants a demo"}

	require.NoError(t, h.handlers.AnalyzeCall(context.Background(), analyzeTask(t, attempt.ID)))

	require.Len(t, h.analyzer.seen, 1)
	assert.Equal(t, "call-"+lead.ID.String(), h.analyzer.seen[0].CallID)
	assert.Equal(t, 90, h.analyzer.seen[0].Duration)

	got, err := h.store.Leads().Get(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusQualified, got.Status)
	require.NotNil(t, got.QualificationScore)
	assert.InDelta(t, 88, *got.QualificationScore, 0.001)

	done := h.events.OfType(domain.EventAnalysisCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, string(domain.LeadStatusQualified), done[0].Payload["lead_status"])
}

func TestAnalyzeCallSchedulesCallback(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	attempt := h.finishedAttempt(t, lead, "User: call me tomorrow")
	h.analyzer.result = &analysis.Result{Score: 40, Action: "callback"}

	require.NoError(t, h.handlers.AnalyzeCall(context.Background(), analyzeTask(t, attempt.ID)))

	got, err := h.store.Leads().Get(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusCallback, got.Status)
	require.NotNil(t, got.NextCallScheduledAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *got.NextCallScheduledAt)
}

func TestAnalyzeCallNeverDowngradesQualifiedLead(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	attempt := h.finishedAttempt(t, lead, "User: not now")
	require.NoError(t, h.store.Leads().UpdateStatus(context.Background(), lead.ID, domain.LeadStatusQualified, nil))
	h.analyzer.result = &analysis.Result{Score: 10, Action: "unqualified"}

	require.NoError(t, h.handlers.AnalyzeCall(context.Background(), analyzeTask(t, attempt.ID)))

	got, err := h.store.Leads().Get(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusQualified, got.Status)
	require.NotNil(t, got.QualificationScore)
	assert.InDelta(t, 10, *got.QualificationScore, 0.001)
}

func TestAnalyzeCallWithoutTranscriptIsNoop(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	attempt := h.finishedAttempt(t, lead, "")

	require.NoError(t, h.handlers.AnalyzeCall(context.Background(), analyzeTask(t, attempt.ID)))
	assert.Empty(t, h.analyzer.seen)
	assert.Empty(t, h.events.OfType(domain.EventAnalysisCompleted))
}

func TestAnalyzeCallTransientErrorIsRetried(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	attempt := h.finishedAttempt(t, lead, "User: hello")
	h.analyzer.err = fmt.Errorf("analysis: %w", apperrors.ErrUnavailable)

	err := h.handlers.AnalyzeCall(context.Background(), analyzeTask(t, attempt.ID))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestVerdict(t *testing.T) {
	qualified := domain.LeadStatusQualified
	unqualified := domain.LeadStatusUnqualified
	callback := domain.LeadStatusCallback

	cases := []struct {
		name    string
		result  analysis.Result
		current domain.LeadStatus
		want    *domain.LeadStatus
	}{
		{"qualified", analysis.Result{Action: "qualified"}, domain.LeadStatusContacted, &qualified},
		{"book appointment", analysis.Result{Action: "book-appointment"}, domain.LeadStatusContacted, &qualified},
		{"not interested", analysis.Result{Action: "not_interested"}, domain.LeadStatusContacted, &unqualified},
		{"follow up", analysis.Result{Action: "Follow_Up"}, domain.LeadStatusContacted, &callback},
		{"score only", analysis.Result{Score: 75}, domain.LeadStatusContacted, &qualified},
		{"low score only", analysis.Result{Score: 20}, domain.LeadStatusContacted, nil},
		{"unknown action", analysis.Result{Action: "escalate"}, domain.LeadStatusContacted, nil},
		{"keep qualified", analysis.Result{Action: "callback"}, domain.LeadStatusQualified, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := tc.result
			assert.Equal(t, tc.want, verdict(&result, tc.current))
		})
	}
}

func TestCleanupStaleCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := fixedNow.Add(-3 * time.Hour)

	endedLead := h.addLead(t, 1, domain.LeadStatusNew)
	ended := h.addAttempt(t, endedLead, old, "call-ended")
	endedAt := fixedNow.Add(-150 * time.Minute)
	h.provider.SetCall(telephony.CallInfo{ID: "call-ended", Status: "ended", EndedReason: "customer-ended-call", DurationSeconds: 42, EndedAt: &endedAt})

	goneLead := h.addLead(t, 2, domain.LeadStatusNew)
	gone := h.addAttempt(t, goneLead, old, "call-gone")

	liveLead := h.addLead(t, 3, domain.LeadStatusNew)
	live := h.addAttempt(t, liveLead, old, "call-live")
	h.provider.SetCall(telephony.CallInfo{ID: "call-live", Status: "in-progress"})

	freshLead := h.addLead(t, 4, domain.LeadStatusNew)
	fresh := h.addAttempt(t, freshLead, fixedNow.Add(-time.Minute), "call-fresh")

	require.NoError(t, h.handlers.CleanupStaleCalls(ctx, newPeriodicTask(TypeCleanupStaleCalls)))

	got, err := h.store.Attempts().Get(ctx, ended.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusCompleted, got.Status)
	assert.Equal(t, 42, got.DurationSeconds)

	got, err = h.store.Attempts().Get(ctx, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusFailed, got.Status)
	assert.Equal(t, CleanupReason, got.EndedReason)

	got, err = h.store.Attempts().Get(ctx, live.ID)
	require.NoError(t, err)
	assert.False(t, got.Status.Terminal())

	got, err = h.store.Attempts().Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.Status.Terminal())

	alerts := h.events.OfType(domain.EventAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityLow, alerts[0].Severity)
	assert.Equal(t, domain.AlertStaleCallExpired, alerts[0].Payload["kind"])
	assert.Equal(t, gone.ID.String(), alerts[0].Payload["attempt_id"])
	assert.Equal(t, []string{realtime.RoleRoom(realtime.RoleAdmin)}, realtime.Route(alerts[0]))

	// a second sweep finds nothing new to close
	require.NoError(t, h.handlers.CleanupStaleCalls(ctx, newPeriodicTask(TypeCleanupStaleCalls)))
	assert.Len(t, h.events.OfType(domain.EventCallEnded), 2)
	assert.Len(t, h.events.OfType(domain.EventAlert), 1)
}

func TestUpdateCallStatusReconcilesEndedCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	attempt := h.addAttempt(t, lead, fixedNow.Add(-5*time.Minute), "call-1")

	task, err := NewUpdateCallStatusTask(attempt.ID)
	require.NoError(t, err)

	h.provider.SetCall(telephony.CallInfo{ID: "call-1", Status: "in-progress"})
	require.NoError(t, h.handlers.UpdateCallStatus(ctx, task))
	got, err := h.store.Attempts().Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.False(t, got.Status.Terminal())

	h.provider.SetCall(telephony.CallInfo{ID: "call-1", Status: "ended", EndedReason: "voicemail"})
	require.NoError(t, h.handlers.UpdateCallStatus(ctx, task))
	got, err = h.store.Attempts().Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusVoicemail, got.Status)

	// replay is a no-op
	require.NoError(t, h.handlers.UpdateCallStatus(ctx, task))
	assert.Len(t, h.events.OfType(domain.EventCallEnded), 1)
}

func TestHangQueuesStatusCheckThatClosesEndedCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	attempt := h.addAttempt(t, lead, fixedNow.Add(-10*time.Minute), "call-hung")

	outcome, err := h.machine.Handle(ctx, webhook.Delivery{
		Body:       []byte(`{"type":"hang","call":{"id":"call-hung"},"timestamp":5}`),
		ReceivedAt: fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookOutcomeProcessed, outcome)
	require.Equal(t, []uuid.UUID{attempt.ID}, h.enqueuer.statusChecks)

	endedAt := fixedNow.Add(-time.Minute)
	h.provider.SetCall(telephony.CallInfo{ID: "call-hung", Status: "ended", EndedReason: "silence-timed-out", DurationSeconds: 30, EndedAt: &endedAt})
	task, err := NewUpdateCallStatusTask(h.enqueuer.statusChecks[0])
	require.NoError(t, err)
	require.NoError(t, h.handlers.UpdateCallStatus(ctx, task))

	got, err := h.store.Attempts().Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
	assert.Equal(t, 30, got.DurationSeconds)
	assert.Len(t, h.events.OfType(domain.EventCallEnded), 1)
}

func TestSweepCallbacksQueuesDueLeads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	due := h.addLead(t, 1, domain.LeadStatusNew)
	past := fixedNow.Add(-time.Minute)
	require.NoError(t, h.store.Leads().UpdateStatus(ctx, due.ID, domain.LeadStatusCallback, &past))

	later := h.addLead(t, 2, domain.LeadStatusNew)
	future := fixedNow.Add(time.Hour)
	require.NoError(t, h.store.Leads().UpdateStatus(ctx, later.ID, domain.LeadStatusCallback, &future))

	h.addLead(t, 3, domain.LeadStatusNew)

	require.NoError(t, h.handlers.SweepCallbacks(ctx, newPeriodicTask(TypeSweepCallbacks)))
	assert.Equal(t, []uuid.UUID{due.ID}, h.enqueuer.callbacks)
}

func TestResetDailyNumbers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lead := h.addLead(t, 1, domain.LeadStatusNew)
	h.addAttempt(t, lead, fixedNow, "call-1")

	n, err := h.store.Numbers().Get(ctx, h.number.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n.DailyCalls)

	require.NoError(t, h.handlers.ResetDailyNumbers(ctx, newPeriodicTask(TypeResetDailyNumbers)))

	n, err = h.store.Numbers().Get(ctx, h.number.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n.DailyCalls)
	assert.Equal(t, 1, n.TotalCalls)
}

func TestRegisterRoutesEveryTaskType(t *testing.T) {
	h := newHarness(t)
	mux := asynq.NewServeMux()
	h.handlers.Register(mux)

	for _, typ := range []string{
		TypeMakeCall, TypeRetryCall, TypeAnalyzeCall, TypeUpdateCallStatus,
		TypeProcessCallback, TypeCleanupStaleCalls, TypeSweepCallbacks, TypeResetDailyNumbers,
	} {
		_, pattern := mux.Handler(asynq.NewTask(typ, nil))
		assert.Equal(t, typ, pattern)
	}
}
