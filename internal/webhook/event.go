package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

// Provider event types.
const (
	TypeCallStart    = "call-start"
	TypeCallEnd      = "call-end"
	TypeTranscript   = "transcript"
	TypeToolCall     = "tool-call"
	TypeFunctionCall = "function-call"
	TypeSpeechUpdate = "speech-update"
	TypeHang         = "hang"
	TypeError        = "error"
)

var validate = validator.New()

// Call is the provider's view of the call carried on every event.
type Call struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Duration     float64           `json:"duration" validate:"gte=0"`
	Cost         float64           `json:"cost" validate:"gte=0"`
	Transcript   string            `json:"transcript"`
	RecordingURL string            `json:"recordingUrl" validate:"omitempty,url"`
	EndedReason  string            `json:"endedReason"`
	Metadata     map[string]string `json:"metadata"`
}

// ToolCall is a function the voice agent invoked mid-call.
type ToolCall struct {
	Name      string          `json:"name" validate:"required"`
	Arguments json.RawMessage `json:"arguments"`
}

// Args decodes the arguments, which providers send either as an object or as
// a JSON-encoded string.
func (t ToolCall) Args() (map[string]any, error) {
	raw := t.Arguments
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("webhook: %w: tool arguments: %v", apperrors.ErrValidation, err)
		}
		raw = []byte(s)
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("webhook: %w: tool arguments: %v", apperrors.ErrValidation, err)
	}
	return args, nil
}

// Event is one decoded provider callback.
type Event struct {
	Type           string          `json:"type" validate:"required"`
	Call           Call            `json:"call"`
	Timestamp      json.RawMessage `json:"timestamp"`
	Role           string          `json:"role"`
	Transcript     string          `json:"transcript"`
	TranscriptType string          `json:"transcriptType"`
	Status         string          `json:"status"`
	Error          string          `json:"error"`
	ToolCall       *ToolCall       `json:"toolCall" validate:"omitempty"`
	FunctionCall   *ToolCall       `json:"functionCall" validate:"omitempty"`
}

// Parse decodes and validates a raw callback body.
func Parse(body []byte) (*Event, error) {
	ev := new(Event)
	if err := json.Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("webhook: %w: decode: %v", apperrors.ErrValidation, err)
	}
	ev.Type = strings.ToLower(strings.TrimSpace(ev.Type))
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("webhook: %w: %v", apperrors.ErrValidation, err)
	}
	return ev, nil
}

// Tool returns the invoked function for tool-call and function-call events.
func (e *Event) Tool() *ToolCall {
	if e.ToolCall != nil {
		return e.ToolCall
	}
	return e.FunctionCall
}

// AttemptID is the dispatcher's attempt id echoed back in the call metadata.
func (e *Event) AttemptID() uuid.UUID {
	id, err := uuid.Parse(e.Call.Metadata["attemptId"])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// OccurredAt parses the event timestamp, which is either RFC 3339 or epoch
// milliseconds. fallback is used when it is absent or malformed.
func (e *Event) OccurredAt(fallback time.Time) time.Time {
	raw := strings.Trim(string(e.Timestamp), `"`)
	if raw == "" || raw == "null" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return fallback
}

// IdempotencyKey derives the dedup key for one delivery. A provider event id
// wins; call-end is keyed by call alone so a resent report with a new
// timestamp is still a duplicate; anything else hashes its content.
func IdempotencyKey(eventID string, ev *Event, body []byte) string {
	if eventID != "" {
		return "evt:" + eventID
	}
	callRef := ev.Call.ID
	if callRef == "" {
		callRef = ev.Call.Metadata["attemptId"]
	}
	if ev.Type == TypeCallEnd && callRef != "" {
		return TypeCallEnd + ":" + callRef
	}
	bodySum := sha256.Sum256(body)
	h := sha256.New()
	h.Write([]byte(ev.Type))
	h.Write([]byte{0})
	h.Write([]byte(callRef))
	h.Write([]byte{0})
	h.Write(ev.Timestamp)
	h.Write([]byte{0})
	h.Write(bodySum[:])
	return ev.Type + ":" + hex.EncodeToString(h.Sum(nil))
}
