package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
	callsvc "github.com/acme/voice-dialer/internal/service/call"
)

type callResponse struct {
	ID              uuid.UUID            `json:"id"`
	LeadID          uuid.UUID            `json:"lead_id"`
	CampaignID      uuid.UUID            `json:"campaign_id"`
	NumberID        uuid.UUID            `json:"number_id"`
	ProviderCallID  *string              `json:"provider_call_id,omitempty"`
	AttemptNumber   int                  `json:"attempt_number"`
	Status          domain.AttemptStatus `json:"status"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
	DurationSeconds int                  `json:"duration_seconds"`
	Cost            float64              `json:"cost"`
	EndedReason     string               `json:"ended_reason,omitempty"`
	RecordingURL    string               `json:"recording_url,omitempty"`
	Error           string               `json:"error,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type callEventResponse struct {
	Type           string                `json:"type"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	Outcome        domain.WebhookOutcome `json:"outcome"`
	Error          string                `json:"error,omitempty"`
	ReceivedAt     time.Time             `json:"received_at"`
}

type listCallEventsResponse struct {
	Events   []callEventResponse `json:"events"`
	NextPage string              `json:"next_page_token,omitempty"`
}

type transcriptSegmentResponse struct {
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	ReceivedAt time.Time `json:"received_at"`
}

func (h *HandlerSet) triggerCall(ctx *fiber.Ctx) error {
	leadID, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}

	res, err := h.calls.TriggerCall(ctx.UserContext(), leadID)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"lead_id":     res.LeadID,
		"campaign_id": res.CampaignID,
		"task_id":     res.TaskID,
	})
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	attempt, err := h.calls.GetAttempt(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(attempt))
}

func (h *HandlerSet) listCallEvents(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	paging, err := callsvc.DecodePagingState(ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	result, err := h.calls.ListEvents(ctx.UserContext(), id, limit, paging)
	if err != nil {
		return translateError(err)
	}

	resp := listCallEventsResponse{Events: make([]callEventResponse, 0, len(result.Events))}
	for _, e := range result.Events {
		resp.Events = append(resp.Events, callEventResponse{
			Type:           e.Type,
			IdempotencyKey: e.IdempotencyKey,
			Outcome:        e.Outcome,
			Error:          e.Error,
			ReceivedAt:     e.ReceivedAt,
		})
	}
	resp.NextPage = callsvc.EncodePagingState(result.PagingState)

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) callTranscript(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	segments, err := h.calls.Transcript(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	resp := make([]transcriptSegmentResponse, 0, len(segments))
	for _, s := range segments {
		resp = append(resp, transcriptSegmentResponse{Role: s.Role, Text: s.Text, Final: s.Final, ReceivedAt: s.ReceivedAt})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"segments": resp})
}

func toCallResponse(a *domain.CallAttempt) callResponse {
	return callResponse{
		ID:              a.ID,
		LeadID:          a.LeadID,
		CampaignID:      a.CampaignID,
		NumberID:        a.NumberID,
		ProviderCallID:  a.ProviderCallID,
		AttemptNumber:   a.AttemptNumber,
		Status:          a.Status,
		StartedAt:       a.StartedAt,
		EndedAt:         a.EndedAt,
		DurationSeconds: a.DurationSeconds,
		Cost:            a.Cost,
		EndedReason:     a.EndedReason,
		RecordingURL:    a.RecordingURL,
		Error:           a.Error,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}
