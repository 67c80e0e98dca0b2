package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
	campaignsvc "github.com/acme/voice-dialer/internal/service/campaign"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type createCampaignRequest struct {
	AccountID          string                `json:"account_id" validate:"required,uuid"`
	Name               string                `json:"name" validate:"required,max=200"`
	Description        string                `json:"description"`
	TimeZone           string                `json:"time_zone" validate:"required"`
	AgentID            string                `json:"agent_id"`
	MaxAttemptsPerLead int                   `json:"max_attempts_per_lead" validate:"gte=0,lte=50"`
	BusinessHours      []businessHourRequest `json:"business_hours" validate:"dive"`
	Leads              []leadRequest         `json:"leads" validate:"max=5000,dive"`
}

type businessHourRequest struct {
	DayOfWeek int    `json:"day_of_week" validate:"gte=0,lte=6"`
	Start     string `json:"start" validate:"required"`
	End       string `json:"end" validate:"required"`
}

type leadRequest struct {
	PhoneNumber    string         `json:"phone_number" validate:"required"`
	Timezone       string         `json:"timezone"`
	PriorityScore  int            `json:"priority_score"`
	AssignedUserID *uuid.UUID     `json:"assigned_user_id"`
	ConsentAt      *time.Time     `json:"consent_at"`
	Data           map[string]any `json:"data"`
}

type numberRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	DailyLimit  int    `json:"daily_limit" validate:"gte=0"`
}

type campaignResponse struct {
	ID                 uuid.UUID              `json:"id"`
	AccountID          uuid.UUID              `json:"account_id"`
	Name               string                 `json:"name"`
	Description        string                 `json:"description"`
	TimeZone           string                 `json:"time_zone"`
	AgentID            string                 `json:"agent_id"`
	Status             domain.CampaignStatus  `json:"status"`
	MaxAttemptsPerLead int                    `json:"max_attempts_per_lead"`
	BusinessHours      []businessHourResponse `json:"business_hours"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
}

type businessHourResponse struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type campaignStatsResponse struct {
	TotalCalls       int64   `json:"total_calls"`
	CompletedCalls   int64   `json:"completed_calls"`
	FailedCalls      int64   `json:"failed_calls"`
	InProgressCalls  int64   `json:"in_progress_calls"`
	VoicemailCalls   int64   `json:"voicemail_calls"`
	NoAnswerCalls    int64   `json:"no_answer_calls"`
	BusyCalls        int64   `json:"busy_calls"`
	ComplianceBlocks int64   `json:"compliance_blocks"`
	TotalCost        float64 `json:"total_cost"`
	TotalDurationSec int64   `json:"total_duration_sec"`
}

type numberResponse struct {
	ID            uuid.UUID  `json:"id"`
	PhoneNumber   string     `json:"phone_number"`
	IsActive      bool       `json:"is_active"`
	DailyCalls    int        `json:"daily_calls"`
	DailyLimit    int        `json:"daily_limit"`
	TotalCalls    int        `json:"total_calls"`
	AnsweredCalls int        `json:"answered_calls"`
	HealthScore   float64    `json:"health_score"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := h.bind(ctx, &req); err != nil {
		return err
	}

	input, err := toCreateCampaignInput(req)
	if err != nil {
		return translateError(err)
	}

	campaign, err := h.campaigns.Create(ctx.UserContext(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit := clampQueryLimit(ctx.Query("limit"))

	if status := ctx.Query("status"); status != "" {
		campaigns, err := h.campaigns.ListByStatus(ctx.UserContext(), domain.CampaignStatus(status), limit)
		if err != nil {
			return translateError(err)
		}
		return ctx.Status(http.StatusOK).JSON(toListResponse(campaigns))
	}

	var afterID *uuid.UUID
	if afterStr := ctx.Query("after_id"); afterStr != "" {
		id, err := uuid.Parse(afterStr)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid after_id")
		}
		afterID = &id
	}

	campaigns, err := h.campaigns.List(ctx.UserContext(), afterID, limit)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toListResponse(campaigns))
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

type updateCampaignRequest struct {
	Name               *string                `json:"name" validate:"omitempty,max=200"`
	Description        *string                `json:"description"`
	AgentID            *string                `json:"agent_id"`
	MaxAttemptsPerLead *int                   `json:"max_attempts_per_lead" validate:"omitempty,gte=0,lte=50"`
	BusinessHours      *[]businessHourRequest `json:"business_hours"`
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req updateCampaignRequest
	if err := h.bind(ctx, &req); err != nil {
		return err
	}

	input := campaignsvc.UpdateCampaignInput{
		ID:                 id,
		Name:               req.Name,
		Description:        req.Description,
		AgentID:            req.AgentID,
		MaxAttemptsPerLead: req.MaxAttemptsPerLead,
	}
	if req.BusinessHours != nil {
		bh, err := parseBusinessHours(*req.BusinessHours)
		if err != nil {
			return translateError(err)
		}
		input.BusinessHours = &bh
	}

	campaign, err := h.campaigns.Update(ctx.UserContext(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	return h.campaignAction(ctx, h.campaigns.Start)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	return h.campaignAction(ctx, h.campaigns.Pause)
}

func (h *HandlerSet) completeCampaign(ctx *fiber.Ctx) error {
	return h.campaignAction(ctx, h.campaigns.Complete)
}

func (h *HandlerSet) campaignAction(ctx *fiber.Ctx, action func(context.Context, uuid.UUID) error) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := action(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	stats, err := h.campaigns.Stats(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(campaignStatsResponse{
		TotalCalls:       stats.TotalCalls,
		CompletedCalls:   stats.CompletedCalls,
		FailedCalls:      stats.FailedCalls,
		InProgressCalls:  stats.InProgressCalls,
		VoicemailCalls:   stats.VoicemailCalls,
		NoAnswerCalls:    stats.NoAnswerCalls,
		BusyCalls:        stats.BusyCalls,
		ComplianceBlocks: stats.ComplianceBlocks,
		TotalCost:        stats.TotalCost,
		TotalDurationSec: stats.TotalDurationSec,
	})
}

func (h *HandlerSet) importLeads(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req struct {
		Leads []leadRequest `json:"leads" validate:"required,min=1,max=5000,dive"`
	}
	if err := h.bind(ctx, &req); err != nil {
		return err
	}

	imported, err := h.campaigns.ImportLeads(ctx.UserContext(), id, toLeadInputs(req.Leads))
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"imported": imported})
}

func (h *HandlerSet) registerNumber(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req numberRequest
	if err := h.bind(ctx, &req); err != nil {
		return err
	}

	number, err := h.campaigns.RegisterNumber(ctx.UserContext(), id, campaignsvc.NumberInput{
		PhoneNumber: req.PhoneNumber,
		DailyLimit:  req.DailyLimit,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toNumberResponse(*number))
}

func (h *HandlerSet) listNumbers(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	numbers, err := h.campaigns.ListNumbers(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	resp := make([]numberResponse, 0, len(numbers))
	for _, n := range numbers {
		resp = append(resp, toNumberResponse(n))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"numbers": resp})
}

func toListResponse(campaigns []*domain.Campaign) listCampaignsResponse {
	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}
	return resp
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	resp := campaignResponse{
		ID:                 campaign.ID,
		AccountID:          campaign.AccountID,
		Name:               campaign.Name,
		Description:        campaign.Description,
		TimeZone:           campaign.TimeZone,
		AgentID:            campaign.AgentID,
		Status:             campaign.Status,
		MaxAttemptsPerLead: campaign.MaxAttemptsPerLead,
		BusinessHours:      make([]businessHourResponse, 0, len(campaign.BusinessHours)),
		CreatedAt:          campaign.CreatedAt,
		UpdatedAt:          campaign.UpdatedAt,
		StartedAt:          campaign.StartedAt,
		CompletedAt:        campaign.CompletedAt,
	}

	for _, window := range campaign.BusinessHours {
		resp.BusinessHours = append(resp.BusinessHours, businessHourResponse{
			DayOfWeek: int(window.DayOfWeek),
			Start:     window.Start.Format("15:04"),
			End:       window.End.Format("15:04"),
		})
	}

	return resp
}

func toNumberResponse(n domain.OutboundNumber) numberResponse {
	return numberResponse{
		ID:            n.ID,
		PhoneNumber:   n.PhoneNumber,
		IsActive:      n.IsActive,
		DailyCalls:    n.DailyCalls,
		DailyLimit:    n.DailyLimit,
		TotalCalls:    n.TotalCalls,
		AnsweredCalls: n.AnsweredCalls,
		HealthScore:   n.HealthScore,
		CooldownUntil: n.CooldownUntil,
		LastUsedAt:    n.LastUsedAt,
	}
}

func toCreateCampaignInput(req createCampaignRequest) (campaignsvc.CreateCampaignInput, error) {
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return campaignsvc.CreateCampaignInput{}, fmt.Errorf("%w: invalid account_id", apperrors.ErrValidation)
	}
	input := campaignsvc.CreateCampaignInput{
		AccountID:          accountID,
		Name:               req.Name,
		Description:        req.Description,
		TimeZone:           req.TimeZone,
		AgentID:            req.AgentID,
		MaxAttemptsPerLead: req.MaxAttemptsPerLead,
		Leads:              toLeadInputs(req.Leads),
	}

	if len(req.BusinessHours) > 0 {
		windows, err := parseBusinessHours(req.BusinessHours)
		if err != nil {
			return campaignsvc.CreateCampaignInput{}, err
		}
		input.BusinessHours = windows
	}

	return input, nil
}

func toLeadInputs(req []leadRequest) []campaignsvc.LeadInput {
	leads := make([]campaignsvc.LeadInput, 0, len(req))
	for _, l := range req {
		leads = append(leads, campaignsvc.LeadInput{
			PhoneNumber:    l.PhoneNumber,
			Timezone:       l.Timezone,
			PriorityScore:  l.PriorityScore,
			AssignedUserID: l.AssignedUserID,
			ConsentAt:      l.ConsentAt,
			Data:           l.Data,
		})
	}
	return leads
}

func parseBusinessHours(req []businessHourRequest) ([]campaignsvc.BusinessHourInput, error) {
	windows := make([]campaignsvc.BusinessHourInput, 0, len(req))
	for _, bh := range req {
		start, err := time.Parse("15:04", bh.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid start time", apperrors.ErrValidation)
		}
		end, err := time.Parse("15:04", bh.End)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid end time", apperrors.ErrValidation)
		}
		windows = append(windows, campaignsvc.BusinessHourInput{
			DayOfWeek: time.Weekday(bh.DayOfWeek),
			Start:     start,
			End:       end,
		})
	}
	return windows, nil
}

func clampQueryLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
