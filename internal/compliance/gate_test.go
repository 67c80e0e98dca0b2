package compliance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/domain"
)

type fakeDNC struct {
	listed map[string]bool
	err    error
}

func (f *fakeDNC) Contains(_ context.Context, phone string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.listed[phone], nil
}

func (f *fakeDNC) Add(_ context.Context, phone, _ string) error {
	if f.listed == nil {
		f.listed = map[string]bool{}
	}
	f.listed[phone] = true
	return nil
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []domain.ComplianceLog
}

func (f *fakeLogs) Append(_ context.Context, entry domain.ComplianceLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLogs) ActiveBlock(_ context.Context, phone string, now time.Time) (*domain.ComplianceLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if e.PhoneNumber == phone && !e.Allowed && e.BlockedUntil != nil && e.BlockedUntil.After(now) {
			return &e, nil
		}
	}
	return nil, nil
}

type fakeAttempts struct {
	count int
}

func (f *fakeAttempts) CountSince(context.Context, uuid.UUID, time.Time) (int, error) {
	return f.count, nil
}

type fakeRegistry struct {
	listed bool
	calls  int
}

func (f *fakeRegistry) Listed(context.Context, string) (bool, error) {
	f.calls++
	return f.listed, nil
}

func newTestGate(now time.Time) (*Gate, *fakeDNC, *fakeLogs, *fakeAttempts) {
	dnc := &fakeDNC{}
	logs := &fakeLogs{}
	attempts := &fakeAttempts{}
	g := NewGate(Deps{
		DNC:      dnc,
		Logs:     logs,
		Attempts: attempts,
		Clock:    func() time.Time { return now },
	})
	return g, dnc, logs, attempts
}

func testLead(phone, tz string) *domain.Lead {
	consent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Lead{
		ID:          uuid.New(),
		CampaignID:  uuid.New(),
		PhoneNumber: phone,
		Timezone:    tz,
		Status:      domain.LeadStatusNew,
		ConsentAt:   &consent,
	}
}

func testCampaign() *domain.Campaign {
	return &domain.Campaign{ID: uuid.New(), TimeZone: "UTC", MaxAttemptsPerLead: 3, AgentID: "agent", Status: domain.CampaignStatusActive}
}

// Monday 2025-06-02 14:00 in New York.
var mondayAfternoon = time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)

func TestCheckAllowsInsideWindow(t *testing.T) {
	g, _, logs, _ := newTestGate(mondayAfternoon)

	d := g.Check(context.Background(), testLead("+12127363100", "America/New_York"), testCampaign())

	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)
	assert.Equal(t, 100, d.Score)
	assert.Equal(t, "America/New_York", d.Timezone)
	require.Len(t, logs.entries, 1)
	assert.Equal(t, DefaultRules().Version, logs.entries[0].RulesVersion)
}

func TestCheckDNCWinsOverAttemptCap(t *testing.T) {
	g, dnc, logs, attempts := newTestGate(mondayAfternoon)
	require.NoError(t, dnc.Add(context.Background(), "+12127363100", "internal"))
	attempts.count = 10

	d := g.Check(context.Background(), testLead("+12127363100", "America/New_York"), testCampaign())

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDNC, d.Reason)
	require.NotNil(t, d.BlockedUntil)
	assert.Equal(t, mondayAfternoon.Add(365*24*time.Hour), *d.BlockedUntil)
	assert.Equal(t, 0, d.Score)
	assert.Len(t, logs.entries, 1)
}

func TestCheckLeadFlagSkipsRegistries(t *testing.T) {
	g, _, _, _ := newTestGate(mondayAfternoon)
	federal := &fakeRegistry{}
	g.federal = federal
	lead := testLead("+12127363100", "America/New_York")
	lead.DNCStatus = true

	d := g.Check(context.Background(), lead, testCampaign())

	assert.Equal(t, ReasonDNC, d.Reason)
	assert.Zero(t, federal.calls)
}

func TestCheckFederalRegistryHit(t *testing.T) {
	g, _, _, _ := newTestGate(mondayAfternoon)
	g.federal = &fakeRegistry{listed: true}

	d := g.Check(context.Background(), testLead("+12127363100", "America/New_York"), testCampaign())

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDNC, d.Reason)
}

func TestCheckAttemptCap(t *testing.T) {
	g, _, _, attempts := newTestGate(mondayAfternoon)
	attempts.count = 3

	d := g.Check(context.Background(), testLead("+12127363100", "America/New_York"), testCampaign())

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAttemptCap, d.Reason)
	assert.Equal(t, mondayAfternoon.Add(30*24*time.Hour), *d.BlockedUntil)
	assert.Equal(t, 70, d.Score)
}

func TestCheckTooEarlyBlocksUntilOpening(t *testing.T) {
	// 07:00 New York time
	now := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	g, _, _, _ := newTestGate(now)

	d := g.Check(context.Background(), testLead("+12127363100", "America/New_York"), testCampaign())

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCallingHours, d.Reason)
	assert.Equal(t, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC), *d.BlockedUntil)
	assert.Equal(t, 75, d.Score)
}

func TestCheckRecentBlockIsHonoured(t *testing.T) {
	now := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	g, _, logs, _ := newTestGate(now)
	lead := testLead("+12127363100", "America/New_York")

	first := g.Check(context.Background(), lead, testCampaign())
	require.Equal(t, ReasonCallingHours, first.Reason)

	second := g.Check(context.Background(), lead, testCampaign())
	assert.Equal(t, ReasonRecentBlock, second.Reason)
	assert.Equal(t, *first.BlockedUntil, *second.BlockedUntil)
	assert.Len(t, logs.entries, 2)
}

func TestCheckJurisdictionEndsEarly(t *testing.T) {
	// 20:30 Miami time, Florida stops at 20:00
	now := time.Date(2025, 6, 3, 0, 30, 0, 0, time.UTC)
	g, _, _, _ := newTestGate(now)

	d := g.Check(context.Background(), testLead("+13057361234", "America/New_York"), testCampaign())

	assert.False(t, d.Allowed)
	assert.Equal(t, "US-FL", d.Jurisdiction)
	assert.Equal(t, time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC), *d.BlockedUntil)
}

func TestCheckSundayRestriction(t *testing.T) {
	// Sunday 15:00 in Birmingham, Alabama
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	g, _, _, _ := newTestGate(now)

	d := g.Check(context.Background(), testLead("+12052381234", "America/Chicago"), testCampaign())

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCallingHours, d.Reason)
	assert.Equal(t, time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC), *d.BlockedUntil)
}

func TestCheckFailsOpen(t *testing.T) {
	g, dnc, logs, _ := newTestGate(mondayAfternoon)
	dnc.err = errors.New("connection refused")

	d := g.Check(context.Background(), testLead("+12127363100", "America/New_York"), testCampaign())

	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded)
	assert.Equal(t, 50, d.Score)
	assert.Equal(t, ReasonCheckError, d.Reason)
	require.Len(t, logs.entries, 1)
	assert.Contains(t, logs.entries[0].Error, "connection refused")
}

func TestCheckAdvisories(t *testing.T) {
	g, _, _, _ := newTestGate(mondayAfternoon)
	lead := testLead("+12127363100", "America/New_York")
	lead.ConsentAt = nil

	d := g.Check(context.Background(), lead, testCampaign())

	assert.True(t, d.Allowed)
	assert.Equal(t, 95, d.Score)
	assert.Contains(t, d.Recommendations, "obtain consent")
}

func TestSetRulesSwapsTable(t *testing.T) {
	g, _, _, _ := newTestGate(mondayAfternoon)
	strict, err := ParseRules([]byte(`
version: "strict"
legal_floor:
  start_hour: 9
  end_hour: 10
`))
	require.NoError(t, err)

	g.SetRules(strict)
	d := g.Check(context.Background(), testLead("+12127363100", "America/New_York"), testCampaign())

	assert.False(t, d.Allowed)
	assert.Equal(t, "strict", g.Rules().Version)
}
