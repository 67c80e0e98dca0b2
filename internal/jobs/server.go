package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/config"
	"github.com/acme/voice-dialer/pkg/logger"
)

// callbackSweepSchedule is how often due callbacks are queued.
const callbackSweepSchedule = "@every 5m"

// Server runs the task handlers and the periodic schedule.
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	log       *logger.Logger
}

// NewServer builds the worker server and registers the periodic jobs.
func NewServer(redisCfg config.RedisConfig, cfg config.JobsConfig, handlers *Handlers, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNop()
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 3
	}

	opt := RedisOpt(redisCfg)
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{queue: 1},
		RetryDelayFunc: RetryDelay,
		Logger:         log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.WithContext(ctx).Warn("jobs: task failed",
				zap.String("type", task.Type()),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err))
		}),
	})

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   log.Sugar(),
	})
	periodic := []struct {
		spec     string
		taskType string
	}{
		{cfg.CleanupSchedule, TypeCleanupStaleCalls},
		{cfg.ResetSchedule, TypeResetDailyNumbers},
		{callbackSweepSchedule, TypeSweepCallbacks},
	}
	for _, p := range periodic {
		if p.spec == "" {
			continue
		}
		if _, err := scheduler.Register(p.spec, newPeriodicTask(p.taskType), asynq.Queue(queue)); err != nil {
			return nil, fmt.Errorf("jobs: schedule %s: %w", p.taskType, err)
		}
	}

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	return &Server{server: server, scheduler: scheduler, mux: mux, log: log}, nil
}

// Run processes tasks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return fmt.Errorf("jobs: start scheduler: %w", err)
	}
	s.log.Info("jobs: worker started")

	<-ctx.Done()
	s.scheduler.Shutdown()
	s.server.Shutdown()
	s.log.Info("jobs: worker stopped")
	return nil
}
