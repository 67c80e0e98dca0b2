package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/acme/voice-dialer/internal/config"
)

// callbackDedupWindow stops the sweep from queueing the same lead twice while
// the first task is still pending.
const callbackDedupWindow = 10 * time.Minute

// Client enqueues dialer jobs.
type Client struct {
	client    *asynq.Client
	queue     string
	retention time.Duration
}

// RedisOpt converts the shared redis settings for asynq.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
}

// NewClient builds an enqueuing client.
func NewClient(redisCfg config.RedisConfig, cfg config.JobsConfig) *Client {
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	return &Client{
		client:    asynq.NewClient(RedisOpt(redisCfg)),
		queue:     queue,
		retention: cfg.Retention,
	}
}

// Close releases the redis connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueMakeCall queues an immediate dispatch and returns the task id.
func (c *Client) EnqueueMakeCall(ctx context.Context, leadID uuid.UUID) (string, error) {
	task, err := NewMakeCallTask(leadID)
	if err != nil {
		return "", err
	}
	info, err := c.enqueue(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// EnqueueRetryCall queues the campaign-level retry after delay.
func (c *Client) EnqueueRetryCall(ctx context.Context, leadID uuid.UUID, reason string, delay time.Duration) error {
	task, err := NewRetryCallTask(leadID, reason)
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task, asynq.ProcessIn(delay))
	return err
}

// EnqueueAnalyzeCall queues analysis once per attempt.
func (c *Client) EnqueueAnalyzeCall(ctx context.Context, attemptID uuid.UUID) error {
	task, err := NewAnalyzeCallTask(attemptID)
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task, asynq.TaskID("analyze:"+attemptID.String()))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueUpdateCallStatus queues a provider reconciliation for one attempt.
func (c *Client) EnqueueUpdateCallStatus(ctx context.Context, attemptID uuid.UUID) error {
	task, err := NewUpdateCallStatusTask(attemptID)
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task)
	return err
}

// EnqueueProcessCallback queues a due callback, at most once per window.
func (c *Client) EnqueueProcessCallback(ctx context.Context, leadID uuid.UUID) error {
	task, err := NewProcessCallbackTask(leadID)
	if err != nil {
		return err
	}
	_, err = c.enqueue(ctx, task, asynq.Unique(callbackDedupWindow))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	opts = append(opts, asynq.Queue(c.queue))
	if c.retention > 0 {
		opts = append(opts, asynq.Retention(c.retention))
	}
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("jobs: enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}
