package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/domain"
	"github.com/acme/voice-dialer/internal/events"
	"github.com/acme/voice-dialer/internal/repository"
	"github.com/acme/voice-dialer/pkg/logger"
)

// Locker gives one replica a campaign for the duration of a tick. Extend is
// called before every dispatch so a long pass keeps the lock.
type Locker interface {
	Acquire(ctx context.Context, campaignID uuid.UUID) (bool, error)
	Extend(ctx context.Context, campaignID uuid.UUID) (bool, error)
	Release(ctx context.Context, campaignID uuid.UUID) error
}

// Queue is the periodic dialer loop.
type Queue struct {
	campaigns  repository.CampaignRepository
	leads      repository.LeadRepository
	numbers    repository.NumberRepository
	dispatcher *Dispatcher
	lock       Locker
	events     events.Publisher
	cfg        config.DispatchConfig
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *logger.Logger

	mu      sync.Mutex
	running bool
	ticker  *time.Ticker
	stop    chan struct{}
	busy    atomic.Bool
	wg      sync.WaitGroup
}

// QueueDeps wires a Queue. Lock is optional for single-replica runs.
type QueueDeps struct {
	Campaigns  repository.CampaignRepository
	Leads      repository.LeadRepository
	Numbers    repository.NumberRepository
	Dispatcher *Dispatcher
	Lock       Locker
	Events     events.Publisher
	Config     config.DispatchConfig
	Clock      func() time.Time
	Logger     *logger.Logger
}

// NewQueue constructs the dialer loop.
func NewQueue(deps QueueDeps) *Queue {
	q := &Queue{
		campaigns:  deps.Campaigns,
		leads:      deps.Leads,
		numbers:    deps.Numbers,
		dispatcher: deps.Dispatcher,
		lock:       deps.Lock,
		events:     deps.Events,
		cfg:        deps.Config,
		now:        deps.Clock,
		sleep:      sleepContext,
		logger:     deps.Logger,
	}
	if q.events == nil {
		q.events = events.Nop{}
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.logger == nil {
		q.logger = logger.NewNop()
	}
	if q.cfg.TickInterval <= 0 {
		q.cfg.TickInterval = 30 * time.Second
	}
	if q.cfg.CampaignLimit <= 0 {
		q.cfg.CampaignLimit = 100
	}
	return q
}

// Start begins ticking; the first tick runs immediately. Calling Start on a
// running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.ticker = time.NewTicker(q.cfg.TickInterval)
	q.stop = make(chan struct{})

	q.wg.Add(1)
	go q.loop(ctx, q.ticker, q.stop)
	q.logger.Info("dispatch queue started", zap.Duration("interval", q.cfg.TickInterval))
}

// Stop cancels the timer. A tick already in flight runs to completion.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	q.running = false
	q.ticker.Stop()
	close(q.stop)
	q.logger.Info("dispatch queue stopped")
}

// Running reports whether the timer is armed.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Wait blocks until the loop and any in-flight tick have returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) loop(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer q.wg.Done()
	q.spawnTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			q.spawnTick(ctx)
		}
	}
}

func (q *Queue) spawnTick(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.Tick(ctx)
	}()
}

// Tick runs one pass over active campaigns. It returns false when another tick
// was still in progress and this one was skipped.
func (q *Queue) Tick(ctx context.Context) bool {
	if !q.busy.CompareAndSwap(false, true) {
		q.logger.Debug("dispatch: previous tick still running, skipping")
		return false
	}
	defer q.busy.Store(false)

	tracer := otel.Tracer("dialer.queue")
	ctx, span := tracer.Start(ctx, "dispatch.tick")
	defer span.End()

	campaigns, err := q.campaigns.ListByStatus(ctx, domain.CampaignStatusActive, q.cfg.CampaignLimit)
	if err != nil {
		span.RecordError(err)
		q.logger.Error("dispatch: list campaigns", zap.Error(err))
		return true
	}
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)))

	for _, campaign := range campaigns {
		if ctx.Err() != nil {
			return true
		}
		if !campaign.Dialable() {
			continue
		}
		q.runCampaign(ctx, campaign.ID)
	}
	return true
}

func (q *Queue) runCampaign(ctx context.Context, campaignID uuid.UUID) {
	ctx, span := otel.Tracer("dialer.queue").Start(ctx, "dispatch.campaign", trace.WithAttributes(
		attribute.String("campaign.id", campaignID.String()),
	))
	defer span.End()
	log := &logger.Logger{Logger: q.logger.WithContext(ctx).With(zap.String("campaign_id", campaignID.String()))}

	if q.lock != nil {
		ok, err := q.lock.Acquire(ctx, campaignID)
		if err != nil {
			span.RecordError(err)
			log.Warn("dispatch: campaign lock", zap.Error(err))
			return
		}
		if !ok {
			log.Debug("dispatch: campaign held by another replica")
			return
		}
		defer func() {
			if err := q.lock.Release(context.WithoutCancel(ctx), campaignID); err != nil {
				log.Warn("dispatch: release campaign lock", zap.Error(err))
			}
		}()
	}

	campaign, err := q.dispatcher.LoadCampaign(ctx, campaignID)
	if err != nil {
		span.RecordError(err)
		log.Error("dispatch: load campaign", zap.Error(err))
		return
	}

	if done, err := q.completeIfExhausted(ctx, campaign); err != nil {
		log.Warn("dispatch: completion check", zap.Error(err))
	} else if done {
		return
	}

	now := q.now().UTC()
	if !withinCallingHours(now, campaign) {
		log.Debug("dispatch: campaign outside calling hours")
		return
	}

	numbers, err := q.numbers.ListAvailable(ctx, campaign.ID, now, q.cfg.CampaignLimit)
	if err != nil {
		span.RecordError(err)
		log.Error("dispatch: list numbers", zap.Error(err))
		return
	}
	if len(numbers) == 0 {
		log.Debug("dispatch: no outbound number available")
		return
	}

	leads, err := q.leads.ListEligible(ctx, campaign.ID, campaign.MaxAttemptsPerLead, now, len(numbers))
	if err != nil {
		span.RecordError(err)
		log.Error("dispatch: list leads", zap.Error(err))
		return
	}
	span.SetAttributes(attribute.Int("numbers", len(numbers)), attribute.Int("leads", len(leads)))

	placed := false
	for i := range leads {
		if placed && q.cfg.SpacingDelay > 0 {
			if err := q.sleep(ctx, q.cfg.SpacingDelay); err != nil {
				return
			}
		}
		if !q.holdLock(ctx, log, campaign.ID) {
			return
		}
		res, err := q.dispatcher.Dispatch(ctx, campaign, &leads[i], numbers[i], nil)
		if err != nil {
			log.Warn("dispatch: lead failed", zap.String("lead_id", leads[i].ID.String()), zap.Error(err))
		}
		placed = res.Outcome == OutcomeDispatched || res.Outcome == OutcomeFailed
	}
}

// holdLock renews the campaign lock. A lapsed lock ends the pass, since another
// replica may already be dialing the campaign.
func (q *Queue) holdLock(ctx context.Context, log *logger.Logger, campaignID uuid.UUID) bool {
	if q.lock == nil {
		return true
	}
	ok, err := q.lock.Extend(ctx, campaignID)
	if err != nil {
		log.Warn("dispatch: extend campaign lock", zap.Error(err))
		return false
	}
	if !ok {
		log.Warn("dispatch: campaign lock lost mid-pass")
		return false
	}
	return true
}

// completeIfExhausted moves the campaign to completed once no lead can produce a call.
func (q *Queue) completeIfExhausted(ctx context.Context, campaign *domain.Campaign) (bool, error) {
	remaining, err := q.leads.CountRemaining(ctx, campaign.ID, campaign.MaxAttemptsPerLead)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	if err := q.campaigns.UpdateStatus(ctx, campaign.ID, domain.CampaignStatusCompleted); err != nil {
		return false, err
	}
	q.logger.Info("dispatch: campaign completed", zap.String("campaign_id", campaign.ID.String()))
	events.Emit(ctx, q.events, q.logger, domain.NewEvent(domain.EventCampaignCompleted, campaign.AccountID, map[string]any{
		"name": campaign.Name,
	}).ForCampaign(campaign.ID))
	return true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
