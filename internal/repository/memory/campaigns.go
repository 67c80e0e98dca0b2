package memory

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
)

// Campaigns implements repository.CampaignRepository.
type Campaigns struct{ s *Store }

func (r *Campaigns) Create(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.campaigns[c.ID]; ok {
		return repository.ErrConflict
	}
	cp := *c
	cp.BusinessHours = nil
	r.s.campaigns[c.ID] = cp
	return nil
}

func (r *Campaigns) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *Campaigns) Update(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.campaigns[c.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *c
	cp.BusinessHours = nil
	r.s.campaigns[c.ID] = cp
	return nil
}

func (r *Campaigns) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	c.Status = status
	c.UpdatedAt = now
	if status == domain.CampaignStatusCompleted {
		c.CompletedAt = &now
	}
	r.s.campaigns[id] = c
	return nil
}

func (r *Campaigns) List(_ context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := make([]domain.Campaign, 0, len(r.s.campaigns))
	for _, c := range r.s.campaigns {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return bytes.Compare(all[i].ID[:], all[j].ID[:]) < 0 })

	var out []*domain.Campaign
	for i := range all {
		if afterID != nil && bytes.Compare(all[i].ID[:], afterID[:]) <= 0 {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, &all[i])
	}
	return out, nil
}

func (r *Campaigns) ListByStatus(_ context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range r.s.campaigns {
		if c.Status != status {
			continue
		}
		cp := c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// BusinessHours implements repository.BusinessHourRepository.
type BusinessHours struct{ s *Store }

func (r *BusinessHours) Replace(_ context.Context, campaignID uuid.UUID, windows []domain.BusinessHourWindow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.hours[campaignID] = append([]domain.BusinessHourWindow(nil), windows...)
	return nil
}

func (r *BusinessHours) List(_ context.Context, campaignID uuid.UUID) ([]domain.BusinessHourWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]domain.BusinessHourWindow(nil), r.s.hours[campaignID]...), nil
}

// Stats implements repository.CampaignStatisticsRepository.
type Stats struct{ s *Store }

func (r *Stats) Ensure(_ context.Context, campaignID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.stats[campaignID]; !ok {
		r.s.stats[campaignID] = domain.CampaignStats{}
	}
	return nil
}

func (r *Stats) Get(_ context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stats[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (r *Stats) ApplyDelta(_ context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.applyDelta(campaignID, delta)
	return nil
}

// applyDelta must be called with mu held.
func (s *Store) applyDelta(campaignID uuid.UUID, d repository.StatsDelta) {
	st := s.stats[campaignID]
	st.TotalCalls += d.TotalCallsDelta
	st.CompletedCalls += d.CompletedCallsDelta
	st.FailedCalls += d.FailedCallsDelta
	st.InProgressCalls += d.InProgressCallsDelta
	if st.InProgressCalls < 0 {
		st.InProgressCalls = 0
	}
	st.VoicemailCalls += d.VoicemailCallsDelta
	st.NoAnswerCalls += d.NoAnswerCallsDelta
	st.BusyCalls += d.BusyCallsDelta
	st.ComplianceBlocks += d.ComplianceBlocksDelta
	st.TotalCost += d.CostDelta
	st.TotalDurationSec += d.DurationDelta
	s.stats[campaignID] = st
}
