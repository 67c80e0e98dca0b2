package realtime

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
	"github.com/acme/voice-dialer/pkg/logger"
)

// HubDeps wires a hub.
type HubDeps struct {
	Policy  *Policy
	Events  events.Publisher
	Metrics *Metrics
	Config  config.RealtimeConfig
	Clock   func() time.Time
	Logger  *logger.Logger
}

// Hub tracks sockets and their rooms and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	policy     *Policy
	bus        events.Publisher
	metrics    *Metrics
	now        func() time.Time
	log        *logger.Logger
	heartbeat  time.Duration
	sendBuffer int
}

// NewHub constructs an empty hub.
func NewHub(deps HubDeps) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		policy:     deps.Policy,
		bus:        deps.Events,
		metrics:    deps.Metrics,
		now:        deps.Clock,
		log:        deps.Logger,
		heartbeat:  deps.Config.HeartbeatInterval,
		sendBuffer: deps.Config.SendBuffer,
	}
	if h.bus == nil {
		h.bus = events.Nop{}
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.log == nil {
		h.log = logger.NewNop()
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 30 * time.Second
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = 256
	}
	return h
}

// Register adds a client and joins its fixed rooms.
func (h *Hub) Register(c *Client) {
	c.touch(h.now())
	h.mu.Lock()
	h.clients[c] = struct{}{}
	for _, room := range baseRooms(c.identity) {
		h.joinLocked(c, room)
	}
	h.gaugesLocked()
	h.mu.Unlock()

	h.log.Debug("realtime: client connected",
		zap.Uint64("client", c.id),
		zap.String("user_id", c.identity.UserID.String()),
		zap.String("role", c.identity.Role))
}

// Unregister removes a client from every room and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	h.mu.Unlock()
	if removed {
		h.log.Debug("realtime: client disconnected", zap.Uint64("client", c.id))
	}
}

// Join adds a client to a room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.joinLocked(c, room)
		h.gaugesLocked()
	}
}

// Leave removes a client from a room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
	h.gaugesLocked()
}

// Broadcast delivers an event to its rooms, restricted to sockets of the
// event's account. It returns the number of sockets reached.
func (h *Hub) Broadcast(ctx context.Context, event domain.Event) int {
	_, span := otel.Tracer("dialer.realtime").Start(ctx, "realtime.broadcast")
	defer span.End()

	rooms := Route(event)
	at := event.OccurredAt
	if at.IsZero() {
		at = h.now()
	}
	data, err := encode(string(event.Type), eventPayload(event), at)
	if err != nil {
		h.log.WithContext(ctx).Error("realtime: encode event", zap.String("type", string(event.Type)), zap.Error(err))
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	targets := h.membersLocked(rooms, event.AccountID)
	n := h.deliverLocked(targets, data)
	h.metrics.delivered.WithLabelValues(string(event.Type)).Add(float64(n))
	span.SetAttributes(
		attribute.String("event.type", string(event.Type)),
		attribute.StringSlice("rooms", rooms),
		attribute.Int("delivered", n),
	)
	return n
}

// eventPayload merges scope ids into the payload so clients can filter.
func eventPayload(event domain.Event) map[string]any {
	payload := make(map[string]any, len(event.Payload)+4)
	for k, v := range event.Payload {
		payload[k] = v
	}
	payload["event_id"] = event.ID.String()
	if event.CallID != "" {
		payload["call_id"] = event.CallID
	}
	if event.CampaignID != nil {
		payload["campaign_id"] = event.CampaignID.String()
	}
	if event.Severity != "" {
		payload["severity"] = string(event.Severity)
	}
	return payload
}

// sendToRooms delivers a hub-originated envelope within one account.
func (h *Hub) sendToRooms(accountID uuid.UUID, rooms []string, kind string, payload any) int {
	data, err := encode(kind, payload, h.now())
	if err != nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deliverLocked(h.membersLocked(rooms, accountID), data)
}

// reply sends an envelope to one client.
func (h *Hub) reply(c *Client, kind string, payload any) {
	data, err := encode(kind, payload, h.now())
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.deliverLocked([]*Client{c}, data)
	}
}

// Prune closes sockets that have not been heard from in two heartbeat
// intervals.
func (h *Hub) Prune() int {
	cutoff := h.now().Add(-2 * h.heartbeat)
	h.mu.Lock()
	var stale []*Client
	for c := range h.clients {
		if c.lastSeenAt().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	for _, c := range stale {
		c.closeConn()
	}
	if len(stale) > 0 {
		h.metrics.pruned.Add(float64(len(stale)))
		h.log.Info("realtime: pruned stale sockets", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// AccountMetrics is the connection summary sent to admins.
type AccountMetrics struct {
	Connections int            `json:"connections"`
	ByRole      map[string]int `json:"by_role"`
	CallRooms   int            `json:"call_rooms"`
	Campaigns   int            `json:"campaign_rooms"`
}

// Snapshot summarizes connections per account.
func (h *Hub) Snapshot() map[uuid.UUID]*AccountMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[uuid.UUID]*AccountMetrics)
	for c := range h.clients {
		m := out[c.identity.AccountID]
		if m == nil {
			m = &AccountMetrics{ByRole: make(map[string]int)}
			out[c.identity.AccountID] = m
		}
		m.Connections++
		m.ByRole[c.identity.Role]++
		for room := range c.rooms {
			switch {
			case strings.HasPrefix(room, "call:"):
				m.CallRooms++
			case strings.HasPrefix(room, "campaign:"):
				m.Campaigns++
			}
		}
	}
	return out
}

// publishConnectionMetrics sends each account's summary to its admins.
func (h *Hub) publishConnectionMetrics() {
	for accountID, m := range h.Snapshot() {
		h.sendToRooms(accountID, []string{RoleRoom(RoleAdmin)}, string(domain.EventConnectionMetrics), m)
	}
}

// Run drives the heartbeat until ctx ends, then closes every socket.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			h.Prune()
			h.publishConnectionMetrics()
		}
	}
}

// ClientCount reports the number of open sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	for _, c := range clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
	h.log.Info("realtime: hub stopped", zap.Int("clients_closed", len(clients)))
}

func (h *Hub) joinLocked(c *Client, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) removeLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
	h.gaugesLocked()
	return true
}

// membersLocked collects the distinct clients of rooms that belong to
// accountID, ordered by client id.
func (h *Hub) membersLocked(rooms []string, accountID uuid.UUID) []*Client {
	seen := make(map[*Client]struct{})
	var out []*Client
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if c.identity.AccountID != accountID {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// deliverLocked queues data without blocking. A client whose buffer is full
// is dropped.
func (h *Hub) deliverLocked(targets []*Client, data []byte) int {
	n := 0
	var slow []*Client
	for _, c := range targets {
		select {
		case c.send <- data:
			n++
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.removeLocked(c)
		h.metrics.dropped.Inc()
		h.log.Warn("realtime: dropped slow client", zap.Uint64("client", c.id))
	}
	return n
}

func (h *Hub) gaugesLocked() {
	byRole := make(map[string]int)
	for c := range h.clients {
		byRole[c.identity.Role]++
	}
	h.metrics.connections.Reset()
	for role, n := range byRole {
		h.metrics.connections.WithLabelValues(role).Set(float64(n))
	}
	h.metrics.rooms.Set(float64(len(h.rooms)))
}
