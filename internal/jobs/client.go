package jobs

import (
	"context"
	"errors"
	"time"

	"crm-calls/internal/calls"
	"crm-calls/internal/config"

	"github.com/hibiken/asynq"
)

const followUpMaxRetry = 5

// Dispatcher enqueues follow-ups. It satisfies calls.FollowUpDispatcher.
type Dispatcher struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

func NewDispatcher(cfg config.Config) *Dispatcher {
	queue := cfg.Jobs.Queue
	if queue == "" {
		queue = "default"
	}
	return &Dispatcher{
		client:  asynq.NewClient(redisClientOpt(cfg)),
		queue:   queue,
		timeout: cfg.Calls.FollowUpTimeout,
	}
}

func (d *Dispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

// Dispatch enqueues f once per call; a repeated dispatch for the same call is
// a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, f calls.FollowUp) error {
	if d == nil || d.client == nil {
		return nil
	}
	task, err := NewCallFollowUpTask(f)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(d.queue),
		asynq.MaxRetry(followUpMaxRetry),
		asynq.TaskID(TaskCallFollowUp + ":" + f.LeadID + ":" + f.CallID),
	}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}
	_, err = d.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func redisClientOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}
