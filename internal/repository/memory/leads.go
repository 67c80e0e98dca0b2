package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
)

// Leads implements repository.LeadRepository.
type Leads struct{ s *Store }

func (r *Leads) BulkInsert(_ context.Context, leads []domain.Lead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range leads {
		if _, ok := r.s.leads[l.ID]; ok {
			return repository.ErrConflict
		}
	}
	for _, l := range leads {
		if l.Data == nil {
			l.Data = map[string]any{}
		}
		r.s.leads[l.ID] = l
	}
	return nil
}

func (r *Leads) Get(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (r *Leads) ListEligible(_ context.Context, campaignID uuid.UUID, maxAttempts int, now time.Time, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		return nil, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Lead
	for _, l := range r.s.leads {
		if l.CampaignID != campaignID || !dialable(l.Status) || l.DNCStatus || l.AttemptCount >= maxAttempts {
			continue
		}
		if l.NextCallScheduledAt != nil && l.NextCallScheduledAt.After(now) {
			continue
		}
		if r.s.hasLiveAttempt(l.ID) {
			continue
		}
		out = append(out, l)
	}
	sortLeads(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Leads) CountRemaining(_ context.Context, campaignID uuid.UUID, maxAttempts int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, l := range r.s.leads {
		if l.CampaignID != campaignID {
			continue
		}
		if l.Status == domain.LeadStatusCalling || (dialable(l.Status) && !l.DNCStatus && l.AttemptCount < maxAttempts) {
			n++
		}
	}
	return n, nil
}

func (r *Leads) Defer(_ context.Context, id uuid.UUID, until time.Time) error {
	return r.update(id, func(l *domain.Lead) { l.NextCallScheduledAt = &until })
}

func (r *Leads) UpdateStatus(_ context.Context, id uuid.UUID, status domain.LeadStatus, nextCall *time.Time) error {
	return r.update(id, func(l *domain.Lead) {
		l.Status = status
		l.NextCallScheduledAt = nextCall
	})
}

func (r *Leads) MergeData(_ context.Context, id uuid.UUID, data map[string]any) error {
	return r.update(id, func(l *domain.Lead) {
		merged := make(map[string]any, len(l.Data)+len(data))
		for k, v := range l.Data {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = v
		}
		l.Data = merged
	})
}

func (r *Leads) SetAppointment(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(l *domain.Lead) {
		l.AppointmentAt = &at
		l.Status = domain.LeadStatusQualified
		l.NextCallScheduledAt = nil
	})
}

func (r *Leads) ApplyQualification(_ context.Context, id uuid.UUID, score float64, status *domain.LeadStatus) error {
	return r.update(id, func(l *domain.Lead) {
		l.QualificationScore = &score
		if status != nil {
			l.Status = *status
		}
	})
}

func (r *Leads) ListDueCallbacks(_ context.Context, now time.Time, limit int) ([]domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Lead
	for _, l := range r.s.leads {
		c, ok := r.s.campaigns[l.CampaignID]
		if !ok || c.Status != domain.CampaignStatusActive || l.Status != domain.LeadStatusCallback {
			continue
		}
		if l.NextCallScheduledAt == nil || l.NextCallScheduledAt.After(now) || r.s.hasLiveAttempt(l.ID) {
			continue
		}
		out = append(out, l)
	}
	sortLeads(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Leads) update(id uuid.UUID, fn func(*domain.Lead)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&l)
	l.UpdatedAt = time.Now().UTC()
	r.s.leads[id] = l
	return nil
}

func dialable(status domain.LeadStatus) bool {
	for _, s := range domain.DialableLeadStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Numbers implements repository.NumberRepository.
type Numbers struct{ s *Store }

func (r *Numbers) Create(_ context.Context, n *domain.OutboundNumber) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.numbers {
		if existing.CampaignID == n.CampaignID && existing.PhoneNumber == n.PhoneNumber {
			return repository.ErrConflict
		}
	}
	r.s.numbers[n.ID] = *n
	return nil
}

func (r *Numbers) Get(_ context.Context, id uuid.UUID) (*domain.OutboundNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.numbers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &n, nil
}

func (r *Numbers) ListByCampaign(_ context.Context, campaignID uuid.UUID) ([]domain.OutboundNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.OutboundNumber
	for _, n := range r.s.numbers {
		if n.CampaignID == campaignID {
			out = append(out, n)
		}
	}
	sortNumbers(out)
	return out, nil
}

func (r *Numbers) ListAvailable(_ context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]domain.OutboundNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.OutboundNumber
	for _, n := range r.s.numbers {
		if n.CampaignID == campaignID && n.Available(now) {
			out = append(out, n)
		}
	}
	sortNumbers(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Numbers) ResetDaily(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, num := range r.s.numbers {
		if num.DailyCalls == 0 {
			continue
		}
		num.DailyCalls = 0
		r.s.numbers[id] = num
		n++
	}
	return n, nil
}
