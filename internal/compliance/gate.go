package compliance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/repository"
	"github.com/acme/voice-dialer/pkg/logger"
)

// Reasons and violation codes written to decisions and the compliance log.
const (
	ReasonAllowed      = "allowed"
	ReasonDNC          = "dnc"
	ReasonRecentBlock  = "recent_block"
	ReasonAttemptCap   = "attempt_cap"
	ReasonCallingHours = "calling_hours"
	ReasonCheckError   = "compliance_check_error"

	AdvisoryNoConsent        = "no_consent"
	AdvisoryTimezoneInferred = "timezone_inferred"
	AdvisoryNumberFormat     = "number_format"
)

const (
	dncBlock        = 365 * 24 * time.Hour
	attemptWindow   = 30 * 24 * time.Hour
	attemptCapBlock = 30 * 24 * time.Hour
	degradedScore   = 50
	advisoryWeight  = 5
)

var violationWeights = map[string]int{
	ReasonDNC:          100,
	ReasonRecentBlock:  40,
	ReasonAttemptCap:   30,
	ReasonCallingHours: 25,
}

// AttemptCounter counts recent dial attempts for a lead.
type AttemptCounter interface {
	CountSince(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error)
}

// Deps wires the gate's collaborators. Federal and Clock are optional.
type Deps struct {
	DNC           repository.DNCRepository
	Federal       Registry
	Logs          repository.ComplianceLogStore
	Attempts      AttemptCounter
	Rules         *Rules
	DefaultRegion string
	Clock         func() time.Time
	Logger        *logger.Logger
}

// Gate decides whether a lead may be called right now.
type Gate struct {
	dnc           repository.DNCRepository
	federal       Registry
	logs          repository.ComplianceLogStore
	attempts      AttemptCounter
	rules         atomic.Pointer[Rules]
	defaultRegion string
	now           func() time.Time
	logger        *logger.Logger
}

// NewGate constructs a gate.
func NewGate(deps Deps) *Gate {
	g := &Gate{
		dnc:           deps.DNC,
		federal:       deps.Federal,
		logs:          deps.Logs,
		attempts:      deps.Attempts,
		defaultRegion: deps.DefaultRegion,
		now:           deps.Clock,
		logger:        deps.Logger,
	}
	if g.defaultRegion == "" {
		g.defaultRegion = "US"
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = logger.NewNop()
	}
	rules := deps.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	g.rules.Store(rules)
	return g
}

// SetRules swaps the jurisdiction table; in-flight checks keep the old one.
func (g *Gate) SetRules(r *Rules) {
	if r != nil {
		g.rules.Store(r)
	}
}

// Rules returns the active jurisdiction table.
func (g *Gate) Rules() *Rules {
	return g.rules.Load()
}

// Check runs the ordered admission checks and logs exactly one decision.
func (g *Gate) Check(ctx context.Context, lead *domain.Lead, campaign *domain.Campaign) domain.Decision {
	ctx, span := otel.Tracer("compliance").Start(ctx, "compliance.check")
	defer span.End()
	span.SetAttributes(attribute.String("lead_id", lead.ID.String()))

	now := g.now().UTC()
	rules := g.rules.Load()
	phone := Inspect(lead.PhoneNumber, g.defaultRegion, rules)

	decision, err := g.evaluate(ctx, lead, campaign, rules, phone, now)
	if err != nil {
		g.logger.WithContext(ctx).Warn("compliance check degraded, allowing call",
			zap.String("lead_id", lead.ID.String()), zap.Error(err))
		decision = domain.Decision{
			Allowed:  true,
			Reason:   ReasonCheckError,
			Score:    degradedScore,
			Degraded: true,
		}
	}
	span.SetAttributes(attribute.Bool("allowed", decision.Allowed), attribute.String("reason", decision.Reason))

	entry := domain.ComplianceLog{
		ID:              uuid.New(),
		LeadID:          lead.ID,
		CampaignID:      campaign.ID,
		PhoneNumber:     phone.E164,
		Allowed:         decision.Allowed,
		Reason:          decision.Reason,
		BlockedUntil:    decision.BlockedUntil,
		Score:           decision.Score,
		Violations:      decision.Violations,
		Recommendations: decision.Recommendations,
		Degraded:        decision.Degraded,
		RulesVersion:    rules.Version,
		CheckedAt:       now,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if logErr := g.logs.Append(ctx, entry); logErr != nil {
		g.logger.WithContext(ctx).Error("append compliance log", zap.String("lead_id", lead.ID.String()), zap.Error(logErr))
	}

	return decision
}

func (g *Gate) evaluate(ctx context.Context, lead *domain.Lead, campaign *domain.Campaign, rules *Rules, phone PhoneInfo, now time.Time) (domain.Decision, error) {
	d := domain.Decision{Allowed: true, Reason: ReasonAllowed, Jurisdiction: phone.Jurisdiction}

	if lead.ConsentAt == nil {
		d.Violations = append(d.Violations, AdvisoryNoConsent)
		d.Recommendations = append(d.Recommendations, "obtain consent")
	}
	if !phone.Valid {
		d.Violations = append(d.Violations, AdvisoryNumberFormat)
		d.Recommendations = append(d.Recommendations, "verify number format")
	}

	listed, err := g.onDNC(ctx, lead, phone)
	if err != nil {
		return d, err
	}
	if listed {
		return block(d, ReasonDNC, now.Add(dncBlock)), nil
	}

	prior, err := g.logs.ActiveBlock(ctx, phone.E164, now)
	if err != nil {
		return d, fmt.Errorf("compliance: recent block: %w", err)
	}
	if prior != nil && prior.BlockedUntil != nil {
		return block(d, ReasonRecentBlock, *prior.BlockedUntil), nil
	}

	if campaign.MaxAttemptsPerLead > 0 {
		n, err := g.attempts.CountSince(ctx, lead.ID, now.Add(-attemptWindow))
		if err != nil {
			return d, fmt.Errorf("compliance: count attempts: %w", err)
		}
		if n >= campaign.MaxAttemptsPerLead {
			return block(d, ReasonAttemptCap, now.Add(attemptCapBlock)), nil
		}
	}

	loc, inferred, err := resolveLocation(lead.Timezone, phone.Timezone, campaign.TimeZone)
	if err != nil {
		return d, err
	}
	d.Timezone = loc.String()
	if inferred {
		d.Violations = append(d.Violations, AdvisoryTimezoneInferred)
		d.Recommendations = append(d.Recommendations, "timezone inferred from number")
	}

	window := rules.WindowFor(phone.Jurisdiction)
	local := now.In(loc)
	if !window.Contains(local) {
		return block(d, ReasonCallingHours, window.NextStart(local).UTC()), nil
	}

	d.Score = score(d.Violations)
	return d, nil
}

func (g *Gate) onDNC(ctx context.Context, lead *domain.Lead, phone PhoneInfo) (bool, error) {
	if lead.DNCStatus {
		return true, nil
	}
	listed, err := g.dnc.Contains(ctx, phone.E164)
	if err != nil {
		return false, fmt.Errorf("compliance: dnc registry: %w", err)
	}
	if listed || g.federal == nil || !phone.Valid {
		return listed, nil
	}
	listed, err = g.federal.Listed(ctx, phone.E164)
	if err != nil {
		return false, fmt.Errorf("compliance: federal registry: %w", err)
	}
	return listed, nil
}

// resolveLocation prefers the lead's zone, then the number's, then the campaign's.
func resolveLocation(leadTZ, numberTZ, campaignTZ string) (*time.Location, bool, error) {
	if leadTZ != "" {
		if loc, err := time.LoadLocation(leadTZ); err == nil {
			return loc, false, nil
		}
	}
	if numberTZ != "" {
		if loc, err := time.LoadLocation(numberTZ); err == nil {
			return loc, true, nil
		}
	}
	if campaignTZ == "" {
		campaignTZ = "UTC"
	}
	loc, err := time.LoadLocation(campaignTZ)
	if err != nil {
		return nil, false, fmt.Errorf("compliance: load timezone %q: %w", campaignTZ, err)
	}
	return loc, false, nil
}

func block(d domain.Decision, reason string, until time.Time) domain.Decision {
	d.Allowed = false
	d.Reason = reason
	d.BlockedUntil = &until
	d.Violations = append(d.Violations, reason)
	d.Score = score(d.Violations)
	return d
}

func score(violations []string) int {
	s := 100
	for _, v := range violations {
		if w, ok := violationWeights[v]; ok {
			s -= w
		} else {
			s -= advisoryWeight
		}
	}
	if s < 0 {
		return 0
	}
	return s
}
