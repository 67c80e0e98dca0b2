package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/domain"
)

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *Authenticator) {
	t.Helper()
	policy, err := NewPolicy()
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	cfg := config.RealtimeConfig{JWTSecret: "s3cret", HeartbeatInterval: 30 * time.Second, SendBuffer: 16}
	hub := NewHub(HubDeps{Policy: policy, Metrics: NewMetrics(reg), Config: cfg})
	auth, err := NewAuthenticator(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(cfg, hub, auth, reg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, hub, auth
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHandshakeRequiresToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSocketReceivesScopedEvents(t *testing.T) {
	srv, hub, auth := newTestServer(t)
	id := Identity{UserID: uuid.New(), AccountID: uuid.New(), Role: RoleSupervisor}
	token, err := auth.Sign(id, time.Hour)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEnvelope(t, conn)
	assert.Equal(t, ReplyConnected, hello.Type)
	assert.Equal(t, id.AccountID.String(), hello.Payload.(map[string]any)["accountId"])

	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgSubscribeCall, CallID: "call-9"}))
	assert.Equal(t, ReplySubscribed, readEnvelope(t, conn).Type)

	hub.Broadcast(context.Background(), domain.NewEvent(domain.EventTranscriptSegment, id.AccountID, map[string]any{"text": "hello"}).ForCall("call-9"))
	got := readEnvelope(t, conn)
	assert.Equal(t, string(domain.EventTranscriptSegment), got.Type)
	assert.Equal(t, "hello", got.Payload.(map[string]any)["text"])
	assert.False(t, got.Timestamp.IsZero())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	assert.Equal(t, ReplyError, readEnvelope(t, conn).Type)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	r := httptest.NewRequest("GET", "http://dialer.local/ws", nil)
	r.Header.Set("Origin", "http://dialer.local")
	assert.True(t, originChecker(nil)(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, originChecker(nil)(r))
	assert.False(t, originChecker([]string{"https://app.example"})(r))
	assert.True(t, originChecker([]string{"http://evil.example/"})(r))
	assert.True(t, originChecker([]string{"*"})(r))
}
