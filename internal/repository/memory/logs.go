package memory

import (
	"context"
	"sort"
	"time"

	"github.com/acme/voice-dialer/internal/domain"
)

// DNC implements repository.DNCRepository.
type DNC struct{ s *Store }

func (r *DNC) Contains(_ context.Context, phone string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.dnc[phone]
	return ok, nil
}

func (r *DNC) Add(_ context.Context, phone, source string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.dnc[phone] = source
	for id, l := range r.s.leads {
		if l.PhoneNumber == phone {
			l.DNCStatus = true
			r.s.leads[id] = l
		}
	}
	return nil
}

// ProcessedEvents implements repository.ProcessedEventStore.
type ProcessedEvents struct{ s *Store }

func (r *ProcessedEvents) Exists(_ context.Context, key string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.processed[key]
	return ok, nil
}

func (r *ProcessedEvents) Record(_ context.Context, key, providerCallID, _ string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.processed[key]; ok {
		return false, nil
	}
	r.s.processed[key] = providerCallID
	return true, nil
}

func (r *ProcessedEvents) Forget(_ context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.processed, key)
	return nil
}

// ComplianceLogs implements repository.ComplianceLogStore.
type ComplianceLogs struct{ s *Store }

func (r *ComplianceLogs) Append(_ context.Context, entry domain.ComplianceLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.compliance = append(r.s.compliance, entry)
	return nil
}

func (r *ComplianceLogs) ActiveBlock(_ context.Context, phone string, now time.Time) (*domain.ComplianceLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.compliance) - 1; i >= 0; i-- {
		e := r.s.compliance[i]
		if e.PhoneNumber == phone && !e.Allowed && e.BlockedUntil != nil && e.BlockedUntil.After(now) {
			return &e, nil
		}
	}
	return nil, nil
}

// All returns every logged decision, oldest first.
func (r *ComplianceLogs) All() []domain.ComplianceLog {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]domain.ComplianceLog(nil), r.s.compliance...)
}

// WebhookEvents implements repository.WebhookEventStore.
type WebhookEvents struct{ s *Store }

func (r *WebhookEvents) Append(_ context.Context, event domain.WebhookEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.webhooks = append(r.s.webhooks, event)
	return nil
}

// ListByCall ignores paging state and returns everything newest first.
func (r *WebhookEvents) ListByCall(_ context.Context, providerCallID string, limit int, _ []byte) ([]domain.WebhookEvent, []byte, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.WebhookEvent
	for _, e := range r.s.webhooks {
		if e.ProviderCallID == providerCallID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil, nil
}

// All returns every stored callback in arrival order.
func (r *WebhookEvents) All() []domain.WebhookEvent {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]domain.WebhookEvent(nil), r.s.webhooks...)
}

// Transcripts implements repository.TranscriptStore.
type Transcripts struct{ s *Store }

func (r *Transcripts) AppendSegment(_ context.Context, segment domain.TranscriptSegment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.segments = append(r.s.segments, segment)
	return nil
}

func (r *Transcripts) ListSegments(_ context.Context, providerCallID string) ([]domain.TranscriptSegment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.TranscriptSegment
	for _, s := range r.s.segments {
		if s.ProviderCallID == providerCallID {
			out = append(out, s)
		}
	}
	return out, nil
}
