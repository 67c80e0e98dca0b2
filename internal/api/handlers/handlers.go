package handlers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/domain"
	callsvc "github.com/acme/voice-dialer/internal/service/call"
	campaignsvc "github.com/acme/voice-dialer/internal/service/campaign"
	"github.com/acme/voice-dialer/pkg/logger"
)

const healthTimeout = 2 * time.Second

// WebhookIngress verifies and forwards provider callbacks.
type WebhookIngress interface {
	Accept(ctx context.Context, signature, eventID string, body []byte) domain.WebhookOutcome
}

// Deps are the collaborators of the HTTP handlers. Checks and Gatherer are optional.
type Deps struct {
	Campaigns *campaignsvc.Service
	Calls     *callsvc.Service
	Ingress   WebhookIngress
	Checks    map[string]func(context.Context) error
	Gatherer  prometheus.Gatherer
	Logger    *logger.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	campaigns *campaignsvc.Service
	calls     *callsvc.Service
	ingress   WebhookIngress
	checks    map[string]func(context.Context) error
	gatherer  prometheus.Gatherer
	logger    *logger.Logger
	validate  *validator.Validate
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Deps) *HandlerSet {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &HandlerSet{
		campaigns: deps.Campaigns,
		calls:     deps.Calls,
		ingress:   deps.Ingress,
		checks:    deps.Checks,
		gatherer:  deps.Gatherer,
		logger:    deps.Logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)
	if h.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	app.Post("/webhooks/telephony", h.telephonyWebhook)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Put("/:id", h.updateCampaign)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/complete", h.completeCampaign)
	campaigns.Get("/:id/stats", h.campaignStats)
	campaigns.Post("/:id/leads", h.importLeads)
	campaigns.Post("/:id/numbers", h.registerNumber)
	campaigns.Get("/:id/numbers", h.listNumbers)

	v1.Post("/leads/:id/call", h.triggerCall)

	calls := v1.Group("/calls")
	calls.Get("/:id", h.getCall)
	calls.Get("/:id/events", h.listCallEvents)
	calls.Get("/:id/transcript", h.callTranscript)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.WithContext(ctx.UserContext()).Error("request failed",
			zap.String("path", ctx.Path()), zap.Error(err))
		message = "internal error"
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), healthTimeout)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}

// bind parses and validates a JSON body.
func (h *HandlerSet) bind(ctx *fiber.Ctx, out any) error {
	if err := ctx.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}
