package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/compliance"
	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
	"github.com/acme/voice-dialer/internal/realtime"
	"github.com/acme/voice-dialer/internal/repository/memory"
	"github.com/acme/voice-dialer/internal/service/concurrency"
	"github.com/acme/voice-dialer/internal/telephony/mock"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

// Monday 14:00 in New York.
var testNow = time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)

type harness struct {
	store    *memory.Store
	provider *mock.Provider
	events   *events.Recorder
	queue    *Queue
	campaign domain.Campaign
	sleeps   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(),
		provider: mock.NewProvider(),
		events:   &events.Recorder{},
	}
	clock := func() time.Time { return testNow }

	gate := compliance.NewGate(compliance.Deps{
		DNC:      h.store.DNC(),
		Logs:     h.store.ComplianceLogs(),
		Attempts: h.store.Attempts(),
		Clock:    clock,
	})
	dispatcher := NewDispatcher(DispatcherDeps{
		Campaigns:     h.store.Campaigns(),
		BusinessHours: h.store.BusinessHours(),
		Leads:         h.store.Leads(),
		Numbers:       h.store.Numbers(),
		Attempts:      h.store.Attempts(),
		Stats:         h.store.Stats(),
		Gate:          gate,
		Provider:      h.provider,
		Events:        h.events,
		Clock:         clock,
	})
	h.queue = NewQueue(QueueDeps{
		Campaigns:  h.store.Campaigns(),
		Leads:      h.store.Leads(),
		Numbers:    h.store.Numbers(),
		Dispatcher: dispatcher,
		Events:     h.events,
		Config:     config.DispatchConfig{TickInterval: time.Hour, SpacingDelay: 30 * time.Second},
		Clock:      clock,
	})
	h.queue.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}

	h.campaign = domain.Campaign{
		ID:                 uuid.New(),
		AccountID:          uuid.New(),
		Name:               "spring",
		TimeZone:           "America/New_York",
		MaxAttemptsPerLead: 3,
		AgentID:            "agent-1",
		Status:             domain.CampaignStatusActive,
		CreatedAt:          testNow.Add(-time.Hour),
	}
	ctx := context.Background()
	require.NoError(t, h.store.Campaigns().Create(ctx, &h.campaign))
	require.NoError(t, h.store.Stats().Ensure(ctx, h.campaign.ID))
	return h
}

func (h *harness) addLead(t *testing.T, n int, status domain.LeadStatus, priority int) domain.Lead {
	t.Helper()
	consent := testNow.Add(-24 * time.Hour)
	lead := domain.Lead{
		ID:            uuid.New(),
		CampaignID:    h.campaign.ID,
		AccountID:     h.campaign.AccountID,
		PhoneNumber:   fmt.Sprintf("+1212736%04d", n),
		Timezone:      "America/New_York",
		Status:        status,
		PriorityScore: priority,
		ConsentAt:     &consent,
		CreatedAt:     testNow.Add(-time.Duration(n) * time.Minute),
	}
	require.NoError(t, h.store.Leads().BulkInsert(context.Background(), []domain.Lead{lead}))
	return lead
}

func (h *harness) addNumber(t *testing.T, n int) domain.OutboundNumber {
	t.Helper()
	number := domain.OutboundNumber{
		ID:          uuid.New(),
		CampaignID:  h.campaign.ID,
		PhoneNumber: fmt.Sprintf("+1646736%04d", n),
		IsActive:    true,
		DailyLimit:  100,
		HealthScore: 100,
	}
	require.NoError(t, h.store.Numbers().Create(context.Background(), &number))
	return number
}

func TestTickDispatchesInPriorityOrder(t *testing.T) {
	h := newHarness(t)
	contacted := h.addLead(t, 1, domain.LeadStatusContacted, 10)
	fresh := h.addLead(t, 2, domain.LeadStatusNew, 1)
	callback := h.addLead(t, 3, domain.LeadStatusCallback, 0)
	h.addNumber(t, 1)
	h.addNumber(t, 2)
	h.addNumber(t, 3)

	require.True(t, h.queue.Tick(context.Background()))

	placed := h.provider.Placed()
	require.Len(t, placed, 3)
	assert.Equal(t, callback.PhoneNumber, placed[0].To)
	assert.Equal(t, fresh.PhoneNumber, placed[1].To)
	assert.Equal(t, contacted.PhoneNumber, placed[2].To)
	assert.Equal(t, "agent-1", placed[0].AgentID)
	assert.NotEmpty(t, placed[0].Metadata["attemptId"])

	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, h.sleeps)
	assert.Len(t, h.events.OfType(domain.EventCallDispatched), 3)

	lead, err := h.store.Leads().Get(context.Background(), callback.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusCalling, lead.Status)
	assert.Equal(t, 1, lead.AttemptCount)

	stats, err := h.store.Stats().Get(context.Background(), h.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(3), stats.InProgressCalls)
}

func TestTickCapsLeadsToNumbers(t *testing.T) {
	h := newHarness(t)
	h.addLead(t, 1, domain.LeadStatusNew, 0)
	h.addLead(t, 2, domain.LeadStatusNew, 0)
	h.addNumber(t, 1)

	h.queue.Tick(context.Background())
	assert.Len(t, h.provider.Placed(), 1)

	// the number is now cooling down and the first lead has a live attempt
	h.queue.Tick(context.Background())
	assert.Len(t, h.provider.Placed(), 1)
}

func TestTickBlockedLeadIsDeferred(t *testing.T) {
	h := newHarness(t)
	blocked := h.addLead(t, 1, domain.LeadStatusCallback, 0)
	h.addLead(t, 2, domain.LeadStatusNew, 0)
	h.addNumber(t, 1)
	h.addNumber(t, 2)
	require.NoError(t, h.store.DNC().Add(context.Background(), blocked.PhoneNumber, "internal"))

	h.queue.Tick(context.Background())

	// the blocked lead consumed the first number slot
	assert.Len(t, h.provider.Placed(), 1)
	assert.Empty(t, h.sleeps)

	lead, err := h.store.Leads().Get(context.Background(), blocked.ID)
	require.NoError(t, err)
	require.NotNil(t, lead.NextCallScheduledAt)
	assert.True(t, lead.NextCallScheduledAt.After(testNow))

	blockedEvents := h.events.OfType(domain.EventComplianceBlocked)
	require.Len(t, blockedEvents, 1)
	assert.Equal(t, compliance.ReasonDNC, blockedEvents[0].Payload["reason"])

	stats, err := h.store.Stats().Get(context.Background(), h.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ComplianceBlocks)
}

func TestTickProviderFailureMarksAttempt(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew, 0)
	h.addNumber(t, 1)
	h.addNumber(t, 2)
	h.provider.FailNext = errors.New("upstream timeout")

	h.queue.Tick(context.Background())

	require.Len(t, h.events.OfType(domain.EventCallDispatchFailed), 1)
	stale, err := h.store.Attempts().ListStale(context.Background(), testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	got, err := h.store.Leads().Get(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusNew, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.NextCallScheduledAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *got.NextCallScheduledAt)

	// a free number remains, but the lead is held back
	h.queue.Tick(context.Background())
	assert.Empty(t, h.provider.Placed())
	got, err = h.store.Leads().Get(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptCount)

	alerts := h.events.OfType(domain.EventAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, domain.AlertDispatchFailed, alerts[0].Payload["kind"])
	assert.Equal(t, []string{realtime.RoleRoom(realtime.RoleSupervisor)}, realtime.Route(alerts[0]))
}

func TestTickProviderUnavailableRaisesHighAlert(t *testing.T) {
	h := newHarness(t)
	h.addLead(t, 1, domain.LeadStatusNew, 0)
	h.addNumber(t, 1)
	h.provider.FailNext = fmt.Errorf("telephony: %w: circuit breaker is open", apperrors.ErrUnavailable)

	h.queue.Tick(context.Background())

	alerts := h.events.OfType(domain.EventAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, domain.AlertProviderUnavailable, alerts[0].Payload["kind"])
	assert.ElementsMatch(t, []string{
		realtime.RoleRoom(realtime.RoleAdmin),
		realtime.RoleRoom(realtime.RoleSupervisor),
	}, realtime.Route(alerts[0]))
}

type degradedGate struct{}

func (degradedGate) Check(context.Context, *domain.Lead, *domain.Campaign) domain.Decision {
	return domain.Decision{Allowed: true, Degraded: true, Score: 50, Reason: compliance.ReasonCheckError}
}

func TestDegradedComplianceRaisesAlert(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew, 0)
	number := h.addNumber(t, 1)
	dispatcher := NewDispatcher(DispatcherDeps{
		Campaigns: h.store.Campaigns(),
		Leads:     h.store.Leads(),
		Numbers:   h.store.Numbers(),
		Attempts:  h.store.Attempts(),
		Stats:     h.store.Stats(),
		Gate:      degradedGate{},
		Provider:  h.provider,
		Events:    h.events,
		Clock:     func() time.Time { return testNow },
	})

	res, err := dispatcher.Dispatch(context.Background(), &h.campaign, &lead, number, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, res.Outcome)

	alerts := h.events.OfType(domain.EventAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, domain.AlertComplianceDegraded, alerts[0].Payload["kind"])
	assert.Equal(t, h.campaign.AccountID, alerts[0].AccountID)
	assert.Contains(t, realtime.Route(alerts[0]), realtime.RoleRoom(realtime.RoleAdmin))
}

func lockedHarness(t *testing.T) (*harness, *miniredis.Miniredis, *concurrency.CampaignLock) {
	t.Helper()
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.addLead(t, i, domain.LeadStatusNew, 0)
		h.addNumber(t, i)
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	h.queue.lock = concurrency.NewCampaignLock(client, time.Minute)
	return h, mr, concurrency.NewCampaignLock(client, time.Minute)
}

func TestTickRenewsCampaignLock(t *testing.T) {
	h, mr, rival := lockedHarness(t)
	ctx := context.Background()

	// each spacing wait outlasts most of the lock TTL
	var rivalWon []bool
	h.queue.sleep = func(ctx context.Context, _ time.Duration) error {
		mr.FastForward(45 * time.Second)
		ok, err := rival.Acquire(ctx, h.campaign.ID)
		require.NoError(t, err)
		rivalWon = append(rivalWon, ok)
		return nil
	}

	h.queue.Tick(ctx)

	assert.Len(t, h.provider.Placed(), 3)
	assert.Equal(t, []bool{false, false}, rivalWon)

	ok, err := rival.Acquire(ctx, h.campaign.ID)
	require.NoError(t, err)
	assert.True(t, ok, "lock is released after the pass")
}

func TestTickStopsWhenCampaignLockLapses(t *testing.T) {
	h, mr, rival := lockedHarness(t)
	ctx := context.Background()

	h.queue.sleep = func(ctx context.Context, _ time.Duration) error {
		mr.FastForward(2 * time.Minute)
		ok, err := rival.Acquire(ctx, h.campaign.ID)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}

	h.queue.Tick(ctx)

	assert.Len(t, h.provider.Placed(), 1)
	ok, err := rival.Extend(ctx, h.campaign.ID)
	require.NoError(t, err)
	assert.True(t, ok, "the other replica keeps its lock")
}

func TestTickCompletesExhaustedCampaign(t *testing.T) {
	h := newHarness(t)
	h.addNumber(t, 1)

	h.queue.Tick(context.Background())

	c, err := h.store.Campaigns().Get(context.Background(), h.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCompleted, c.Status)
	assert.Len(t, h.events.OfType(domain.EventCampaignCompleted), 1)
}

func TestTickRespectsCampaignHours(t *testing.T) {
	h := newHarness(t)
	h.addLead(t, 1, domain.LeadStatusNew, 0)
	h.addNumber(t, 1)
	require.NoError(t, h.store.BusinessHours().Replace(context.Background(), h.campaign.ID, []domain.BusinessHourWindow{
		{DayOfWeek: time.Tuesday, Start: clock(9, 0), End: clock(17, 0)},
	}))

	h.queue.Tick(context.Background())
	assert.Empty(t, h.provider.Placed())
}

func TestTickSkipsWhileBusy(t *testing.T) {
	h := newHarness(t)
	h.queue.busy.Store(true)
	assert.False(t, h.queue.Tick(context.Background()))
}

func TestStartStopIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.queue.Start(ctx)
	h.queue.Start(ctx)
	assert.True(t, h.queue.Running())

	h.queue.Stop()
	h.queue.Stop()
	assert.False(t, h.queue.Running())
	h.queue.Wait()
}

func TestDispatchLeadByIDRejectsPausedCampaign(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew, 0)
	h.addNumber(t, 1)
	require.NoError(t, h.store.Campaigns().UpdateStatus(context.Background(), h.campaign.ID, domain.CampaignStatusPaused))

	_, err := h.queue.dispatcher.DispatchLeadByID(context.Background(), lead.ID, nil)
	require.Error(t, err)
	assert.Empty(t, h.provider.Placed())
}

func TestDispatchLeadByIDReportsProgress(t *testing.T) {
	h := newHarness(t)
	lead := h.addLead(t, 1, domain.LeadStatusNew, 0)
	h.addNumber(t, 1)

	var stages []string
	res, err := h.queue.dispatcher.DispatchLeadByID(context.Background(), lead.ID, func(stage string, _ float64) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Equal(t, []string{StageLookup, StageCompliance, StageDispatch, StageRecord}, stages)
}
