package webhook

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/acme/voice-dialer/internal/domain"
	apperrors "github.com/acme/voice-dialer/pkg/errors"
)

const defaultCallbackDelay = 24 * time.Hour

// toolResult is the event a tool emits after updating the lead.
type toolResult struct {
	event   domain.EventType
	payload map[string]any
}

type toolFunc func(ctx context.Context, m *Machine, attempt *domain.CallAttempt, args map[string]any) (toolResult, error)

var tools = map[string]toolFunc{
	"schedule-callback": scheduleCallback,
	"transfer":          transferCall,
	"capture-lead-info": captureLeadInfo,
	"set-appointment":   setAppointment,
}

// toolName folds provider spellings such as schedule_callback onto one name.
func toolName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}

func scheduleCallback(ctx context.Context, m *Machine, attempt *domain.CallAttempt, args map[string]any) (toolResult, error) {
	now := m.now().UTC()
	at, ok := timeArg(args, "datetime", "callbackTime", "time")
	if !ok || !at.After(now) {
		at = now.Add(defaultCallbackDelay)
	}
	if err := m.leads.UpdateStatus(ctx, attempt.LeadID, domain.LeadStatusCallback, &at); err != nil {
		return toolResult{}, fmt.Errorf("webhook: schedule callback: %w", err)
	}
	return toolResult{event: domain.EventCallbackScheduled, payload: map[string]any{
		"lead_id":     attempt.LeadID.String(),
		"callback_at": at.Format(time.RFC3339),
		"reason":      stringArg(args, "reason"),
	}}, nil
}

func transferCall(ctx context.Context, m *Machine, attempt *domain.CallAttempt, args map[string]any) (toolResult, error) {
	destination := stringArg(args, "destination", "phoneNumber", "to")
	if destination == "" {
		return toolResult{}, fmt.Errorf("webhook: %w: transfer without destination", apperrors.ErrValidation)
	}
	reason := stringArg(args, "reason")
	err := m.leads.MergeData(ctx, attempt.LeadID, map[string]any{
		"transfer_destination":  destination,
		"transfer_reason":       reason,
		"transfer_requested_at": m.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return toolResult{}, fmt.Errorf("webhook: transfer: %w", err)
	}
	return toolResult{event: domain.EventTransferRequested, payload: map[string]any{
		"lead_id":     attempt.LeadID.String(),
		"destination": destination,
		"reason":      reason,
	}}, nil
}

func captureLeadInfo(ctx context.Context, m *Machine, attempt *domain.CallAttempt, args map[string]any) (toolResult, error) {
	if len(args) == 0 {
		return toolResult{}, fmt.Errorf("webhook: %w: capture-lead-info without fields", apperrors.ErrValidation)
	}
	if err := m.leads.MergeData(ctx, attempt.LeadID, args); err != nil {
		return toolResult{}, fmt.Errorf("webhook: capture lead info: %w", err)
	}
	fields := make([]string, 0, len(args))
	for k := range args {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return toolResult{event: domain.EventLeadUpdated, payload: map[string]any{
		"lead_id": attempt.LeadID.String(),
		"fields":  fields,
	}}, nil
}

func setAppointment(ctx context.Context, m *Machine, attempt *domain.CallAttempt, args map[string]any) (toolResult, error) {
	at, ok := timeArg(args, "datetime", "appointmentTime", "time")
	if !ok {
		return toolResult{}, fmt.Errorf("webhook: %w: set-appointment without a valid time", apperrors.ErrValidation)
	}
	if err := m.leads.SetAppointment(ctx, attempt.LeadID, at); err != nil {
		return toolResult{}, fmt.Errorf("webhook: set appointment: %w", err)
	}
	return toolResult{event: domain.EventAppointmentSet, payload: map[string]any{
		"lead_id":        attempt.LeadID.String(),
		"appointment_at": at.Format(time.RFC3339),
	}}, nil
}

func stringArg(args map[string]any, names ...string) string {
	for _, name := range names {
		if v, ok := args[name].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func timeArg(args map[string]any, names ...string) (time.Time, bool) {
	raw := stringArg(args, names...)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
