package realtime

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
)

type hubFixture struct {
	hub     *Hub
	bus     *events.Recorder
	now     time.Time
	account uuid.UUID
}

func newHubFixture(t *testing.T, sendBuffer int) *hubFixture {
	t.Helper()
	policy, err := NewPolicy()
	require.NoError(t, err)
	f := &hubFixture{bus: &events.Recorder{}, now: testNow, account: uuid.New()}
	f.hub = NewHub(HubDeps{
		Policy: policy,
		Events: f.bus,
		Config: config.RealtimeConfig{HeartbeatInterval: 30 * time.Second, SendBuffer: sendBuffer},
		Clock:  func() time.Time { return f.now },
	})
	return f
}

func (f *hubFixture) connect(role string, account uuid.UUID) *Client {
	c := NewClient(f.hub, nil, Identity{UserID: uuid.New(), AccountID: account, Role: role})
	f.hub.Register(c)
	return c
}

// drain returns the envelopes queued for c.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func TestCampaignSubscriptionsAreIsolated(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()
	campaignA, campaignB := uuid.New(), uuid.New()

	a := f.connect(RoleSupervisor, f.account)
	b := f.connect(RoleSupervisor, f.account)
	f.hub.HandleMessage(ctx, a, Inbound{Type: MsgSubscribeCampaign, CampaignID: campaignA.String()})
	f.hub.HandleMessage(ctx, b, Inbound{Type: MsgSubscribeCampaign, CampaignID: campaignB.String()})
	assert.Equal(t, []string{ReplySubscribed}, types(drain(t, a)))
	assert.Equal(t, []string{ReplySubscribed}, types(drain(t, b)))

	event := domain.NewEvent(domain.EventCallDispatched, f.account, map[string]any{"lead_id": "l1"}).ForCampaign(campaignA)
	assert.Equal(t, 1, f.hub.Broadcast(ctx, event))

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, string(domain.EventCallDispatched), got[0].Type)
	payload := got[0].Payload.(map[string]any)
	assert.Equal(t, campaignA.String(), payload["campaign_id"])
	assert.Equal(t, "l1", payload["lead_id"])
	assert.Empty(t, drain(t, b))
}

func TestCallEventsReachCallAndCampaignRooms(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()
	campaign := uuid.New()

	watcher := f.connect(RoleAdmin, f.account)
	dashboard := f.connect(RoleSupervisor, f.account)
	bystander := f.connect(RoleSupervisor, f.account)
	f.hub.HandleMessage(ctx, watcher, Inbound{Type: MsgSubscribeCall, CallID: "call-1"})
	f.hub.HandleMessage(ctx, dashboard, Inbound{Type: MsgSubscribeCampaign, CampaignID: campaign.String()})
	drain(t, watcher)
	drain(t, dashboard)

	event := domain.NewEvent(domain.EventCallEnded, f.account, nil).ForCampaign(campaign).ForCall("call-1")
	assert.Equal(t, 2, f.hub.Broadcast(ctx, event))
	assert.Len(t, drain(t, watcher), 1)
	assert.Len(t, drain(t, dashboard), 1)
	assert.Empty(t, drain(t, bystander))
}

func TestBroadcastIsRestrictedToAccount(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()
	other := uuid.New()

	mine := f.connect(RoleAgent, f.account)
	theirs := f.connect(RoleAgent, other)
	theirAdmin := f.connect(RoleAdmin, other)

	f.hub.Broadcast(ctx, domain.NewEvent(domain.EventLeadUpdated, f.account, nil))
	assert.Len(t, drain(t, mine), 1)
	assert.Empty(t, drain(t, theirs))

	alert := domain.NewEvent(domain.EventAlert, f.account, map[string]any{"message": "provider down"})
	alert.Severity = domain.SeverityCritical
	f.hub.Broadcast(ctx, alert)
	assert.Empty(t, drain(t, theirAdmin))
}

func TestAlertSeverityRouting(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()

	admin := f.connect(RoleAdmin, f.account)
	supervisor := f.connect(RoleSupervisor, f.account)
	agent := f.connect(RoleAgent, f.account)

	cases := []struct {
		severity   domain.Severity
		admin      bool
		supervisor bool
	}{
		{domain.SeverityCritical, true, true},
		{domain.SeverityHigh, true, true},
		{domain.SeverityMedium, false, true},
		{domain.SeverityLow, true, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			alert := domain.NewEvent(domain.EventAlert, f.account, nil)
			alert.Severity = tc.severity
			f.hub.Broadcast(ctx, alert)

			assert.Equal(t, tc.admin, len(drain(t, admin)) == 1)
			assert.Equal(t, tc.supervisor, len(drain(t, supervisor)) == 1)
			assert.Empty(t, drain(t, agent))
		})
	}
}

func TestUserScopedEvents(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()

	target := f.connect(RoleAgent, f.account)
	other := f.connect(RoleAgent, f.account)

	event := domain.NewEvent(domain.EventCallbackScheduled, f.account, nil)
	userID := target.Identity().UserID
	event.UserID = &userID
	f.hub.Broadcast(ctx, event)

	assert.Len(t, drain(t, target), 1)
	assert.Empty(t, drain(t, other))
}

func TestDetailRoomsRequireElevatedRole(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()

	agent := f.connect(RoleAgent, f.account)
	f.hub.HandleMessage(ctx, agent, Inbound{Type: MsgSubscribeCall, CallID: "call-1"})
	f.hub.HandleMessage(ctx, agent, Inbound{Type: MsgSubscribeCampaign, CampaignID: uuid.NewString()})

	replies := drain(t, agent)
	assert.Equal(t, []string{ReplyError, ReplyError}, types(replies))
	assert.Equal(t, "forbidden", replies[0].Payload.(map[string]any)["message"])

	f.hub.Broadcast(ctx, domain.NewEvent(domain.EventSpeechUpdate, f.account, nil).ForCall("call-1"))
	assert.Empty(t, drain(t, agent))
}

func TestUnsubscribeLeavesRoom(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()

	c := f.connect(RoleSupervisor, f.account)
	f.hub.HandleMessage(ctx, c, Inbound{Type: MsgSubscribeCall, CallID: "call-1"})
	f.hub.HandleMessage(ctx, c, Inbound{Type: MsgUnsubscribeCall, CallID: "call-1"})
	assert.Equal(t, []string{ReplySubscribed, ReplyUnsubscribed}, types(drain(t, c)))

	f.hub.Broadcast(ctx, domain.NewEvent(domain.EventCallStarted, f.account, nil).ForCall("call-1"))
	assert.Empty(t, drain(t, c))
}

func TestInterventionGoesToBus(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()

	agent := f.connect(RoleAgent, f.account)
	f.hub.HandleMessage(ctx, agent, Inbound{Type: MsgIntervention, CallID: "call-1", Action: "whisper"})
	assert.Equal(t, []string{ReplyError}, types(drain(t, agent)))
	assert.Empty(t, f.bus.Events())

	supervisor := f.connect(RoleSupervisor, f.account)
	f.hub.HandleMessage(ctx, supervisor, Inbound{Type: MsgIntervention, CallID: "call-1", Action: "whisper", Data: map[string]any{"text": "offer the discount"}})
	assert.Equal(t, []string{ReplyInterventionSent}, types(drain(t, supervisor)))

	requests := f.bus.OfType(domain.EventInterventionRequested)
	require.Len(t, requests, 1)
	assert.Equal(t, "call-1", requests[0].CallID)
	assert.Equal(t, f.account, requests[0].AccountID)
	assert.Equal(t, "whisper", requests[0].Payload["action"])
	assert.Equal(t, supervisor.Identity().UserID.String(), requests[0].Payload["requested_by"])
}

func TestAlertAckNotifiesSupervisors(t *testing.T) {
	f := newHubFixture(t, 16)
	ctx := context.Background()

	admin := f.connect(RoleAdmin, f.account)
	supervisor := f.connect(RoleSupervisor, f.account)
	viewer := f.connect(RoleViewer, f.account)

	f.hub.HandleMessage(ctx, supervisor, Inbound{Type: MsgAlertAck, AlertID: "alert-1"})
	assert.Equal(t, []string{ReplyAlertAcknowledged}, types(drain(t, admin)))
	assert.Equal(t, []string{ReplyAlertAcknowledged}, types(drain(t, supervisor)))
	assert.Empty(t, drain(t, viewer))

	f.hub.HandleMessage(ctx, viewer, Inbound{Type: MsgAlertAck, AlertID: "alert-1"})
	assert.Equal(t, []string{ReplyError}, types(drain(t, viewer)))
}

func TestHeartbeatAndUnknownMessages(t *testing.T) {
	f := newHubFixture(t, 16)
	c := f.connect(RoleViewer, f.account)

	f.hub.HandleMessage(context.Background(), c, Inbound{Type: MsgHeartbeat})
	f.hub.HandleMessage(context.Background(), c, Inbound{Type: "delete:lead"})
	assert.Equal(t, []string{ReplyHeartbeat, ReplyError}, types(drain(t, c)))
}

func TestPruneDropsSilentSockets(t *testing.T) {
	f := newHubFixture(t, 16)
	quiet := f.connect(RoleViewer, f.account)
	chatty := f.connect(RoleViewer, f.account)

	f.now = testNow.Add(45 * time.Second)
	f.hub.HandleMessage(context.Background(), chatty, Inbound{Type: MsgHeartbeat})
	drain(t, chatty)

	f.now = testNow.Add(61 * time.Second)
	assert.Equal(t, 1, f.hub.Prune())
	assert.Equal(t, 1, f.hub.ClientCount())

	_, open := <-quiet.send
	assert.False(t, open)

	f.hub.Broadcast(context.Background(), domain.NewEvent(domain.EventLeadUpdated, f.account, nil))
	assert.Len(t, drain(t, chatty), 1)
}

func TestSlowClientIsDropped(t *testing.T) {
	f := newHubFixture(t, 1)
	slow := f.connect(RoleViewer, f.account)

	event := domain.NewEvent(domain.EventLeadUpdated, f.account, nil)
	assert.Equal(t, 1, f.hub.Broadcast(context.Background(), event))
	assert.Equal(t, 0, f.hub.Broadcast(context.Background(), event))
	assert.Equal(t, 0, f.hub.ClientCount())
	assert.Len(t, drain(t, slow), 1)
}

func TestConnectionMetricsGoToAdmins(t *testing.T) {
	f := newHubFixture(t, 16)
	admin := f.connect(RoleAdmin, f.account)
	viewer := f.connect(RoleViewer, f.account)
	f.connect(RoleViewer, uuid.New())
	f.hub.HandleMessage(context.Background(), admin, Inbound{Type: MsgSubscribeCall, CallID: "call-1"})
	drain(t, admin)

	f.hub.publishConnectionMetrics()

	got := drain(t, admin)
	require.Len(t, got, 1)
	assert.Equal(t, string(domain.EventConnectionMetrics), got[0].Type)
	payload := got[0].Payload.(map[string]any)
	assert.EqualValues(t, 2, payload["connections"])
	assert.EqualValues(t, 1, payload["call_rooms"])
	assert.Empty(t, drain(t, viewer))
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	f := newHubFixture(t, 16)
	c := f.connect(RoleViewer, f.account)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.hub.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, f.hub.ClientCount())
	_, open := <-c.send
	assert.False(t, open)
}
