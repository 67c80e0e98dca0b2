package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
)

// Attempts implements repository.AttemptRepository.
type Attempts struct{ s *Store }

func (r *Attempts) CreateForDispatch(_ context.Context, attempt *domain.CallAttempt, cooldownUntil time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	lead, ok := r.s.leads[attempt.LeadID]
	if !ok || r.s.hasLiveAttempt(attempt.LeadID) {
		return fmt.Errorf("attempt repo: %w: lead %s already has a live attempt", repository.ErrConflict, attempt.LeadID)
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	attempt.AttemptNumber = lead.AttemptCount + 1
	attempt.Status = domain.AttemptStatusInitiated
	attempt.UpdatedAt = attempt.CreatedAt
	r.s.attempts[attempt.ID] = *attempt

	lead.AttemptCount++
	lead.LastCalledAt = ptrTime(attempt.CreatedAt)
	r.s.leads[lead.ID] = lead

	if n, ok := r.s.numbers[attempt.NumberID]; ok {
		n.DailyCalls++
		n.TotalCalls++
		n.LastUsedAt = ptrTime(attempt.CreatedAt)
		n.CooldownUntil = ptrTime(cooldownUntil)
		r.s.numbers[n.ID] = n
	}
	r.s.applyDelta(attempt.CampaignID, repository.StatsDelta{TotalCallsDelta: 1, InProgressCallsDelta: 1})
	return nil
}

func (r *Attempts) MarkDispatched(_ context.Context, attemptID uuid.UUID, providerCallID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[attemptID]
	if !ok {
		return repository.ErrNotFound
	}
	a.ProviderCallID = &providerCallID
	if a.StartedAt == nil {
		a.StartedAt = ptrTime(time.Now().UTC())
	}
	r.s.attempts[attemptID] = a
	if a.Status.Terminal() {
		return nil
	}
	if lead, ok := r.s.leads[a.LeadID]; ok {
		lead.Status = domain.LeadStatusCalling
		r.s.leads[lead.ID] = lead
	}
	return nil
}

func (r *Attempts) MarkDispatchFailed(_ context.Context, attemptID uuid.UUID, reason string, retryAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[attemptID]
	if !ok || a.Status != domain.AttemptStatusInitiated {
		return nil
	}
	a.Status = domain.AttemptStatusFailed
	a.Error = reason
	a.EndedReason = "dispatch_failed"
	a.EndedAt = ptrTime(time.Now().UTC())
	r.s.attempts[attemptID] = a
	if lead, ok := r.s.leads[a.LeadID]; ok {
		lead.NextCallScheduledAt = ptrTime(retryAt.UTC())
		r.s.leads[lead.ID] = lead
	}
	r.s.applyDelta(a.CampaignID, repository.StatsDelta{FailedCallsDelta: 1, InProgressCallsDelta: -1})
	return nil
}

func (r *Attempts) Get(_ context.Context, id uuid.UUID) (*domain.CallAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *Attempts) GetByProviderCallID(_ context.Context, providerCallID string) (*domain.CallAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.findAttempt(providerCallID, uuid.Nil)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *Attempts) CountSince(_ context.Context, leadID uuid.UUID, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.attempts {
		if a.LeadID == leadID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *Attempts) ListStale(_ context.Context, olderThan time.Time, limit int) ([]domain.CallAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.CallAttempt
	for _, a := range r.s.attempts {
		if !a.Status.Terminal() && a.CreatedAt.Before(olderThan) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Attempts) Advance(_ context.Context, t repository.Transition) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, seen := r.s.processed[t.IdempotencyKey]; seen {
		return false, nil
	}
	r.s.processed[t.IdempotencyKey] = t.ProviderCallID

	a, ok := r.s.findAttempt(t.ProviderCallID, t.AttemptID)
	if !ok || a.Status.Terminal() || a.Status.Rank() >= t.To.Rank() {
		return false, nil
	}
	a.Status = t.To
	if a.ProviderCallID == nil && t.ProviderCallID != "" {
		id := t.ProviderCallID
		a.ProviderCallID = &id
	}
	if a.StartedAt == nil {
		a.StartedAt = ptrTime(t.OccurredAt)
	}
	a.UpdatedAt = time.Now().UTC()
	r.s.attempts[a.ID] = a
	return true, nil
}

func (r *Attempts) Finalize(_ context.Context, o repository.CallOutcome) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, seen := r.s.processed[o.IdempotencyKey]; seen {
		return false, nil
	}
	r.s.processed[o.IdempotencyKey] = o.ProviderCallID

	a, ok := r.s.findAttempt(o.ProviderCallID, o.AttemptID)
	if !ok || a.Status.Terminal() {
		return false, nil
	}
	a.Status = o.Status
	if a.ProviderCallID == nil && o.ProviderCallID != "" {
		id := o.ProviderCallID
		a.ProviderCallID = &id
	}
	a.EndedReason = o.EndedReason
	a.DurationSeconds = o.DurationSeconds
	a.Cost = o.Cost
	a.Transcript = o.Transcript
	a.RecordingURL = o.RecordingURL
	a.Error = o.Error
	a.EndedAt = ptrTime(o.EndedAt)
	a.UpdatedAt = time.Now().UTC()
	r.s.attempts[a.ID] = a

	if lead, ok := r.s.leads[a.LeadID]; ok {
		switch lead.Status {
		case domain.LeadStatusCalling, domain.LeadStatusNew, domain.LeadStatusContacted:
			lead.Status = o.LeadStatus
			lead.NextCallScheduledAt = o.NextCallAt
			r.s.leads[lead.ID] = lead
		}
	}

	if n, ok := r.s.numbers[a.NumberID]; ok {
		if o.Answered {
			n.AnsweredCalls++
		}
		if n.TotalCalls > 0 {
			n.HealthScore = math.Round(10000*float64(n.AnsweredCalls)/float64(n.TotalCalls)) / 100
		}
		r.s.numbers[n.ID] = n
	}

	r.s.applyDelta(a.CampaignID, repository.DeltaForOutcome(o.Status, o.DurationSeconds, o.Cost))
	return true, nil
}
