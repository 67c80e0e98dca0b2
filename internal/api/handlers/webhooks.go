package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acme/voice-dialer/internal/webhook"
)

// telephonyWebhook acknowledges every delivery. Verification and forwarding
// happen before the reply; processing happens on the webhook consumer.
func (h *HandlerSet) telephonyWebhook(ctx *fiber.Ctx) error {
	body := append([]byte(nil), ctx.Body()...)
	outcome := h.ingress.Accept(ctx.UserContext(),
		ctx.Get(webhook.SignatureHeader),
		ctx.Get(webhook.EventIDHeader),
		body)

	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
		"received": true,
		"outcome":  outcome,
	})
}
