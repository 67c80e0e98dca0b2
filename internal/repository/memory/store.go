// Package memory holds map-backed repositories with the same transactional
// guarantees as the Postgres and Scylla ones. Tests and the mock provider
// profile run on it.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
)

// Store is the shared state behind every repository in this package.
type Store struct {
	mu         sync.Mutex
	campaigns  map[uuid.UUID]domain.Campaign
	hours      map[uuid.UUID][]domain.BusinessHourWindow
	leads      map[uuid.UUID]domain.Lead
	numbers    map[uuid.UUID]domain.OutboundNumber
	attempts   map[uuid.UUID]domain.CallAttempt
	dnc        map[string]string
	processed  map[string]string
	stats      map[uuid.UUID]domain.CampaignStats
	compliance []domain.ComplianceLog
	webhooks   []domain.WebhookEvent
	segments   []domain.TranscriptSegment
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		campaigns: make(map[uuid.UUID]domain.Campaign),
		hours:     make(map[uuid.UUID][]domain.BusinessHourWindow),
		leads:     make(map[uuid.UUID]domain.Lead),
		numbers:   make(map[uuid.UUID]domain.OutboundNumber),
		attempts:  make(map[uuid.UUID]domain.CallAttempt),
		dnc:       make(map[string]string),
		processed: make(map[string]string),
		stats:     make(map[uuid.UUID]domain.CampaignStats),
	}
}

func (s *Store) Campaigns() *Campaigns             { return &Campaigns{s} }
func (s *Store) BusinessHours() *BusinessHours     { return &BusinessHours{s} }
func (s *Store) Leads() *Leads                     { return &Leads{s} }
func (s *Store) Numbers() *Numbers                 { return &Numbers{s} }
func (s *Store) Attempts() *Attempts               { return &Attempts{s} }
func (s *Store) DNC() *DNC                         { return &DNC{s} }
func (s *Store) ProcessedEvents() *ProcessedEvents { return &ProcessedEvents{s} }
func (s *Store) Stats() *Stats                     { return &Stats{s} }
func (s *Store) ComplianceLogs() *ComplianceLogs   { return &ComplianceLogs{s} }
func (s *Store) WebhookEvents() *WebhookEvents     { return &WebhookEvents{s} }
func (s *Store) Transcripts() *Transcripts         { return &Transcripts{s} }

// hasLiveAttempt must be called with mu held.
func (s *Store) hasLiveAttempt(leadID uuid.UUID) bool {
	for _, a := range s.attempts {
		if a.LeadID == leadID && !a.Status.Terminal() {
			return true
		}
	}
	return false
}

// findAttempt resolves by provider call id first, then by attempt id. mu must be held.
func (s *Store) findAttempt(providerCallID string, attemptID uuid.UUID) (domain.CallAttempt, bool) {
	if providerCallID != "" {
		for _, a := range s.attempts {
			if a.ProviderCallID != nil && *a.ProviderCallID == providerCallID {
				return a, true
			}
		}
	}
	a, ok := s.attempts[attemptID]
	return a, ok
}

func leadRank(status domain.LeadStatus) int {
	switch status {
	case domain.LeadStatusCallback:
		return 0
	case domain.LeadStatusNew:
		return 1
	}
	return 2
}

func sortLeads(leads []domain.Lead) {
	sort.SliceStable(leads, func(i, j int) bool {
		a, b := leads[i], leads[j]
		if leadRank(a.Status) != leadRank(b.Status) {
			return leadRank(a.Status) < leadRank(b.Status)
		}
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func sortNumbers(numbers []domain.OutboundNumber) {
	sort.SliceStable(numbers, func(i, j int) bool {
		a, b := numbers[i], numbers[j]
		if a.HealthScore != b.HealthScore {
			return a.HealthScore > b.HealthScore
		}
		return a.DailyCalls < b.DailyCalls
	})
}
