package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository/memory"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

type fakeEnqueuer struct {
	leads []uuid.UUID
	err   error
}

func (f *fakeEnqueuer) EnqueueMakeCall(_ context.Context, leadID uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.leads = append(f.leads, leadID)
	return "make-call:" + leadID.String(), nil
}

type fixture struct {
	store    *memory.Store
	enqueuer *fakeEnqueuer
	svc      *Service
	campaign domain.Campaign
	lead     domain.Lead
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	enq := &fakeEnqueuer{}

	campaign := domain.Campaign{
		ID:                 uuid.New(),
		AccountID:          uuid.New(),
		Name:               "Renewals",
		TimeZone:           "UTC",
		AgentID:            "agent-1",
		MaxAttemptsPerLead: 3,
		Status:             domain.CampaignStatusActive,
	}
	require.NoError(t, store.Campaigns().Create(ctx, &campaign))

	lead := domain.Lead{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		AccountID:   campaign.AccountID,
		PhoneNumber: "+12127363100",
		Status:      domain.LeadStatusNew,
	}
	require.NoError(t, store.Leads().BulkInsert(ctx, []domain.Lead{lead}))

	svc := NewService(store.Leads(), store.Campaigns(), store.Attempts(), store.WebhookEvents(), store.Transcripts(), enq)
	return &fixture{store: store, enqueuer: enq, svc: svc, campaign: campaign, lead: lead}
}

func (f *fixture) dispatchedAttempt(t *testing.T, providerCallID string) domain.CallAttempt {
	t.Helper()
	ctx := context.Background()
	attempt := &domain.CallAttempt{
		ID:         uuid.New(),
		LeadID:     f.lead.ID,
		CampaignID: f.campaign.ID,
		AccountID:  f.campaign.AccountID,
	}
	require.NoError(t, f.store.Attempts().CreateForDispatch(ctx, attempt, time.Now()))
	if providerCallID != "" {
		require.NoError(t, f.store.Attempts().MarkDispatched(ctx, attempt.ID, providerCallID))
	}
	stored, err := f.store.Attempts().Get(ctx, attempt.ID)
	require.NoError(t, err)
	return *stored
}

func TestTriggerCallEnqueuesMakeCall(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.TriggerCall(context.Background(), f.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, f.lead.ID, res.LeadID)
	assert.Equal(t, f.campaign.ID, res.CampaignID)
	assert.Equal(t, "make-call:"+f.lead.ID.String(), res.TaskID)
	assert.Equal(t, []uuid.UUID{f.lead.ID}, f.enqueuer.leads)
}

func TestTriggerCallRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown lead", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.TriggerCall(ctx, uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.Empty(t, f.enqueuer.leads)
	})

	t.Run("paused campaign", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Campaigns().UpdateStatus(ctx, f.campaign.ID, domain.CampaignStatusPaused))
		_, err := f.svc.TriggerCall(ctx, f.lead.ID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.Empty(t, f.enqueuer.leads)
	})

	t.Run("do not call", func(t *testing.T) {
		f := newFixture(t)
		lead := f.lead
		lead.ID = uuid.New()
		lead.PhoneNumber = "+12127363101"
		lead.DNCStatus = true
		require.NoError(t, f.store.Leads().BulkInsert(ctx, []domain.Lead{lead}))
		_, err := f.svc.TriggerCall(ctx, lead.ID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("queue down", func(t *testing.T) {
		f := newFixture(t)
		f.enqueuer.err = errors.New("redis: connection refused")
		_, err := f.svc.TriggerCall(ctx, f.lead.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "enqueue make-call")
	})
}

func TestListEventsAndTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	attempt := f.dispatchedAttempt(t, "prov-1")

	base := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	for i, typ := range []string{"call-start", "transcript", "call-end"} {
		require.NoError(t, f.store.WebhookEvents().Append(ctx, domain.WebhookEvent{
			ProviderCallID: "prov-1",
			Type:           typ,
			Outcome:        domain.WebhookOutcomeProcessed,
			ReceivedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, f.store.WebhookEvents().Append(ctx, domain.WebhookEvent{ProviderCallID: "other", Type: "call-start", ReceivedAt: base}))
	require.NoError(t, f.store.Transcripts().AppendSegment(ctx, domain.TranscriptSegment{ProviderCallID: "prov-1", Role: "assistant", Text: "Hi there", ReceivedAt: base}))

	page, err := f.svc.ListEvents(ctx, attempt.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "call-end", page.Events[0].Type)

	segments, err := f.svc.Transcript(ctx, attempt.ID)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "Hi there", segments[0].Text)

	byProvider, err := f.svc.GetAttemptByProviderCallID(ctx, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, byProvider.ID)
}

func TestListEventsWithoutProviderCall(t *testing.T) {
	f := newFixture(t)
	attempt := f.dispatchedAttempt(t, "")

	page, err := f.svc.ListEvents(context.Background(), attempt.ID, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Events)

	_, err = f.svc.ListEvents(context.Background(), uuid.New(), 10, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPagingStateRoundTrip(t *testing.T) {
	assert.Equal(t, "", EncodePagingState(nil))

	token := EncodePagingState([]byte{0x01, 0xfe, 0x42})
	state, err := DecodePagingState(token)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xfe, 0x42}, state)

	state, err = DecodePagingState("")
	require.NoError(t, err)
	assert.Nil(t, state)

	_, err = DecodePagingState("!!not base64!!")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultEventLimit, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxEventLimit, clampLimit(10_000))
}
