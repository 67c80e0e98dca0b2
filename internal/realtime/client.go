package realtime

import (
	"context"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

var clientIDs atomic.Uint64

// Client is one dashboard socket.
type Client struct {
	id       uint64
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity Identity
	lastSeen atomic.Int64

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}
}

// NewClient binds a socket to the hub. conn may be nil in tests.
func NewClient(hub *Hub, conn *websocket.Conn, id Identity) *Client {
	return &Client{
		id:       clientIDs.Add(1),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.sendBuffer),
		identity: id,
		rooms:    make(map[string]struct{}),
	}
}

// Identity returns who the socket belongs to.
func (c *Client) Identity() Identity { return c.identity }

func (c *Client) touch(at time.Time) { c.lastSeen.Store(at.UnixNano()) }

func (c *Client) lastSeenAt() time.Time { return time.Unix(0, c.lastSeen.Load()) }

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Start runs the socket pumps.
func (c *Client) Start(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.closeConn()
	}()

	pongWait := 2 * c.hub.heartbeat
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch(c.hub.now())
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("realtime: unexpected close", zap.Uint64("client", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.reply(c, ReplyError, map[string]any{"message": "malformed message"})
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.heartbeat)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleMessage applies one client request. Clients can only change their
// own subscriptions or ask for work on the bus.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg Inbound) {
	c.touch(h.now())
	id := c.identity

	switch msg.Type {
	case MsgHeartbeat:
		h.reply(c, ReplyHeartbeat, nil)

	case MsgSubscribeCall, MsgUnsubscribeCall:
		if msg.CallID == "" {
			h.reply(c, ReplyError, map[string]any{"message": "callId is required", "request": msg.Type})
			return
		}
		h.subscription(c, msg.Type, ResourceCall, CallRoom(msg.CallID), msg.Type == MsgSubscribeCall)

	case MsgSubscribeCampaign, MsgUnsubscribeCampaign:
		campaignID, err := uuid.Parse(msg.CampaignID)
		if err != nil {
			h.reply(c, ReplyError, map[string]any{"message": "campaignId is invalid", "request": msg.Type})
			return
		}
		h.subscription(c, msg.Type, ResourceCampaign, CampaignRoom(campaignID), msg.Type == MsgSubscribeCampaign)

	case MsgIntervention:
		if !h.policy.Allowed(id.Role, ResourceCall, ActionIntervene) {
			h.reply(c, ReplyError, map[string]any{"message": "forbidden", "request": msg.Type})
			return
		}
		if msg.CallID == "" {
			h.reply(c, ReplyError, map[string]any{"message": "callId is required", "request": msg.Type})
			return
		}
		event := domain.NewEvent(domain.EventInterventionRequested, id.AccountID, map[string]any{
			"action":       msg.Action,
			"data":         msg.Data,
			"requested_by": id.UserID.String(),
		}).ForCall(msg.CallID)
		events.Emit(ctx, h.bus, h.log, event)
		h.reply(c, ReplyInterventionSent, map[string]any{"callId": msg.CallID, "requestId": event.ID.String()})

	case MsgAlertAck:
		if !h.policy.Allowed(id.Role, ResourceAlert, ActionAck) {
			h.reply(c, ReplyError, map[string]any{"message": "forbidden", "request": msg.Type})
			return
		}
		if msg.AlertID == "" {
			h.reply(c, ReplyError, map[string]any{"message": "alertId is required", "request": msg.Type})
			return
		}
		h.sendToRooms(id.AccountID, []string{RoleRoom(RoleAdmin), RoleRoom(RoleSupervisor)}, ReplyAlertAcknowledged, map[string]any{
			"alertId":         msg.AlertID,
			"acknowledged_by": id.UserID.String(),
		})

	default:
		h.reply(c, ReplyError, map[string]any{"message": "unknown message type", "request": msg.Type})
	}
}

func (h *Hub) subscription(c *Client, request, resource, room string, join bool) {
	if !join {
		h.Leave(c, room)
		h.reply(c, ReplyUnsubscribed, map[string]any{"room": room})
		return
	}
	if !h.policy.Allowed(c.identity.Role, resource, ActionSubscribe) {
		h.reply(c, ReplyError, map[string]any{"message": "forbidden", "request": request})
		return
	}
	h.Join(c, room)
	h.reply(c, ReplySubscribed, map[string]any{"room": room})
}
