package realtime

import (
	"time"

	json "github.com/goccy/go-json"
)

// Client message types.
const (
	MsgSubscribeCall       = "subscribe:call"
	MsgSubscribeCampaign   = "subscribe:campaign"
	MsgUnsubscribeCall     = "unsubscribe:call"
	MsgUnsubscribeCampaign = "unsubscribe:campaign"
	MsgHeartbeat           = "heartbeat"
	MsgIntervention        = "intervention"
	MsgAlertAck            = "alert:ack"
)

// Server reply types.
const (
	ReplyConnected         = "connected"
	ReplySubscribed        = "subscribed"
	ReplyUnsubscribed      = "unsubscribed"
	ReplyHeartbeat         = "heartbeat:ack"
	ReplyInterventionSent  = "intervention:accepted"
	ReplyAlertAcknowledged = "alert:acknowledged"
	ReplyError             = "error"
)

// Envelope is every frame sent to a client.
type Envelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Inbound is a client request.
type Inbound struct {
	Type       string         `json:"type"`
	CallID     string         `json:"callId,omitempty"`
	CampaignID string         `json:"campaignId,omitempty"`
	AlertID    string         `json:"alertId,omitempty"`
	Action     string         `json:"action,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func encode(kind string, payload any, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Type: kind, Payload: payload, Timestamp: at.UTC()})
}
