package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/acme/voice-dialer/internal/analysis"
	"github.com/acme/voice-dialer/internal/compliance"
	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/internal/dispatch"
	"github.com/acme/voice-dialer/internal/infra/db"
	"github.com/acme/voice-dialer/internal/infra/redis"
	"github.com/acme/voice-dialer/internal/jobs"
	"github.com/acme/voice-dialer/internal/queue"
	"github.com/acme/voice-dialer/internal/repository"
	pgrepo "github.com/acme/voice-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/voice-dialer/internal/repository/scylla"
	callsvc "github.com/acme/voice-dialer/internal/service/call"
	campaignsvc "github.com/acme/voice-dialer/internal/service/campaign"
	"github.com/acme/voice-dialer/internal/service/concurrency"
	"github.com/acme/voice-dialer/internal/telephony"
	telephonyMock "github.com/acme/voice-dialer/internal/telephony/mock"
	"github.com/acme/voice-dialer/internal/webhook"
	"github.com/acme/voice-dialer/pkg/logger"
)

// Container is the explicit registry of connections and components shared by
// every binary. Config is resolved once in Build.
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *prometheus.Registry

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	rules *compliance.Rules

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *Repositories
		gate         *compliance.Gate
		provider     telephony.Provider
		analyzer     analysis.Analyzer
		events       *queue.EventPublisher
		webhooks     *queue.WebhookPublisher
		jobs         *jobs.Client
		machine      *webhook.Machine
		dispatcher   *dispatch.Dispatcher
		services     *Services
	}
	jobMetrics struct {
		once    sync.Once
		metrics *jobs.Metrics
	}
}

// Repositories groups the storage adapters.
type Repositories struct {
	Campaigns      repository.CampaignRepository
	BusinessHours  repository.BusinessHourRepository
	Leads          repository.LeadRepository
	Numbers        repository.NumberRepository
	Attempts       repository.AttemptRepository
	DNC            repository.DNCRepository
	Processed      repository.ProcessedEventStore
	Stats          repository.CampaignStatisticsRepository
	ComplianceLogs repository.ComplianceLogStore
	WebhookEvents  repository.WebhookEventStore
	Transcripts    repository.TranscriptStore
}

// Services groups the API-facing services.
type Services struct {
	Campaign *campaignsvc.Service
	Call     *callsvc.Service
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	rules, err := loadRules(cfg.Compliance)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		_ = pg.Close(ctx)
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		_ = scylla.Close()
		_ = pg.Close(ctx)
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		_ = redisClient.Close()
		_ = scylla.Close()
		_ = pg.Close(ctx)
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Metrics:  reg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
		rules:    rules,
	}

	return container, nil
}

// loadRules resolves the jurisdiction table. A configured file that cannot be
// read or parsed is fatal; only an empty path falls back to the embedded set.
func loadRules(cfg config.ComplianceConfig) (*compliance.Rules, error) {
	rules, err := compliance.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap compliance rules %s: %w", cfg.RulesPath, err)
	}
	return rules, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config
		pgdb := c.Postgres.DB()
		session := c.Scylla.Session()

		repos := &Repositories{
			Campaigns:      pgrepo.NewCampaignRepository(pgdb),
			BusinessHours:  pgrepo.NewBusinessHourRepository(pgdb),
			Leads:          pgrepo.NewLeadRepository(pgdb),
			Numbers:        pgrepo.NewNumberRepository(pgdb),
			Attempts:       pgrepo.NewAttemptRepository(pgdb),
			DNC:            pgrepo.NewDNCRepository(pgdb),
			Processed:      pgrepo.NewProcessedEventRepository(pgdb),
			Stats:          pgrepo.NewCampaignStatisticsRepository(pgdb),
			ComplianceLogs: scyllarepo.NewComplianceLogStore(session),
			WebhookEvents:  scyllarepo.NewWebhookEventStore(session),
			Transcripts:    scyllarepo.NewTranscriptStore(session),
		}

		gateDeps := compliance.Deps{
			DNC:           repos.DNC,
			Logs:          repos.ComplianceLogs,
			Attempts:      repos.Attempts,
			Rules:         c.rules,
			DefaultRegion: cfg.Compliance.DefaultRegion,
			Logger:        c.Logger.Named("compliance"),
		}
		if federal := compliance.NewFederalRegistry(cfg.Compliance); federal != nil {
			gateDeps.Federal = federal
		}
		gate := compliance.NewGate(gateDeps)

		var provider telephony.Provider
		switch cfg.Telephony.Provider {
		case "mock":
			provider = telephonyMock.NewProvider()
		default:
			provider = telephony.NewHTTPProvider(cfg.Telephony)
		}

		publisher := queue.NewEventPublisher(c.Kafka, cfg.Kafka.EventsTopic)
		jobsClient := jobs.NewClient(cfg.Redis, cfg.Jobs)

		machine := webhook.NewMachine(webhook.Deps{
			Attempts:     repos.Attempts,
			Leads:        repos.Leads,
			Campaigns:    repos.Campaigns,
			Processed:    repos.Processed,
			Audit:        repos.WebhookEvents,
			Transcripts:  repos.Transcripts,
			Dedup:        redis.NewDedup(c.Redis, cfg.Webhook.DedupTTL),
			Analysis:     jobsClient,
			StatusChecks: jobsClient,
			Events:       publisher,
			Logger:       c.Logger.Named("webhook"),
		})

		dispatcher := dispatch.NewDispatcher(dispatch.DispatcherDeps{
			Campaigns:      repos.Campaigns,
			BusinessHours:  repos.BusinessHours,
			Leads:          repos.Leads,
			Numbers:        repos.Numbers,
			Attempts:       repos.Attempts,
			Stats:          repos.Stats,
			Gate:           gate,
			Provider:       provider,
			Events:         publisher,
			NumberCooldown: cfg.Dispatch.NumberCooldown,
			FailureBackoff: cfg.Dispatch.FailureBackoff,
			Logger:         c.Logger.Named("dispatch"),
		})

		services := &Services{
			Campaign: campaignsvc.NewService(campaignsvc.Deps{
				Campaigns:     repos.Campaigns,
				BusinessHours: repos.BusinessHours,
				Leads:         repos.Leads,
				Numbers:       repos.Numbers,
				Statistics:    repos.Stats,
				Events:        publisher,
				DefaultRegion: cfg.Compliance.DefaultRegion,
				Logger:        c.Logger.Named("campaigns"),
			}),
			Call: callsvc.NewService(
				repos.Leads,
				repos.Campaigns,
				repos.Attempts,
				repos.WebhookEvents,
				repos.Transcripts,
				jobsClient,
			),
		}

		c.components.repositories = repos
		c.components.gate = gate
		c.components.provider = provider
		c.components.analyzer = analysis.NewClient(cfg.Analysis)
		c.components.events = publisher
		c.components.webhooks = queue.NewWebhookPublisher(c.Kafka, cfg.Kafka.WebhookTopic)
		c.components.jobs = jobsClient
		c.components.machine = machine
		c.components.dispatcher = dispatcher
		c.components.services = services
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *Repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *Services {
	c.initComponents()
	return c.components.services
}

// Gate exposes the compliance gate.
func (c *Container) Gate() *compliance.Gate {
	c.initComponents()
	return c.components.gate
}

// Events exposes the state-change publisher.
func (c *Container) Events() *queue.EventPublisher {
	c.initComponents()
	return c.components.events
}

// Jobs exposes the asynq client.
func (c *Container) Jobs() *jobs.Client {
	c.initComponents()
	return c.components.jobs
}

// StateMachine exposes the webhook state machine.
func (c *Container) StateMachine() *webhook.Machine {
	c.initComponents()
	return c.components.machine
}

// Dispatcher exposes the single-lead dispatch pipeline.
func (c *Container) Dispatcher() *dispatch.Dispatcher {
	c.initComponents()
	return c.components.dispatcher
}

// Ingress builds the webhook ingress in front of the webhook topic.
func (c *Container) Ingress() *webhook.Ingress {
	c.initComponents()
	return webhook.NewIngress(c.Config.Webhook.Secret, c.components.webhooks,
		c.components.repositories.WebhookEvents, c.Logger.Named("ingress"))
}

// Queue builds the dialer loop. The campaign lock lets replicas share the work.
func (c *Container) Queue() *dispatch.Queue {
	c.initComponents()
	repos := c.components.repositories
	return dispatch.NewQueue(dispatch.QueueDeps{
		Campaigns:  repos.Campaigns,
		Leads:      repos.Leads,
		Numbers:    repos.Numbers,
		Dispatcher: c.components.dispatcher,
		Lock:       concurrency.NewCampaignLock(c.Redis.Inner(), c.Config.Dispatch.LockTTL),
		Events:     c.components.events,
		Config:     c.Config.Dispatch,
		Logger:     c.Logger.Named("queue"),
	})
}

// JobHandlers builds the asynq task handlers.
func (c *Container) JobHandlers() *jobs.Handlers {
	c.initComponents()
	c.jobMetrics.once.Do(func() {
		c.jobMetrics.metrics = jobs.NewMetrics(c.Metrics)
	})
	repos := c.components.repositories
	return jobs.NewHandlers(jobs.Deps{
		Dispatcher: c.components.dispatcher,
		Reconciler: c.components.machine,
		Enqueuer:   c.components.jobs,
		Attempts:   repos.Attempts,
		Leads:      repos.Leads,
		Numbers:    repos.Numbers,
		Provider:   c.components.provider,
		Analyzer:   c.components.analyzer,
		Events:     c.components.events,
		Metrics:    c.jobMetrics.metrics,
		Config:     c.Config.Jobs,
		Logger:     c.Logger.Named("jobs"),
	})
}

// HealthChecks returns a probe per backing store.
func (c *Container) HealthChecks() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"postgres": c.Postgres.Ping,
		"kafka":    c.Kafka.Ping,
		"redis": func(ctx context.Context) error {
			return c.Redis.Inner().Ping(ctx).Err()
		},
		"scylla": func(ctx context.Context) error {
			return c.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
		},
	}
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.events != nil {
		if err := c.components.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if c.components.webhooks != nil {
		if err := c.components.webhooks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("webhook publisher close: %w", err))
		}
	}
	if c.components.jobs != nil {
		if err := c.components.jobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("jobs client close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}

// EnsureTopics ensures the webhook and events topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	partitions := c.Config.Kafka.Partitions
	if partitions <= 0 {
		partitions = 12
	}
	replicas := c.Config.Kafka.ReplicationFactor
	if replicas <= 0 {
		replicas = 1
	}
	return c.Kafka.EnsureTopics(ctx, c.Kafka.Topics(), partitions, replicas)
}
