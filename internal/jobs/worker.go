package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crm-calls/internal/calls"
	"crm-calls/internal/config"
	"crm-calls/internal/leads"
	"crm-calls/internal/metrics"
	"crm-calls/pkg/logger"

	"github.com/hibiken/asynq"
)

// FollowUpProcessor handles TaskCallFollowUp.
type FollowUpProcessor struct {
	handler *calls.FollowUpHandler
}

func NewFollowUpProcessor(h *calls.FollowUpHandler) *FollowUpProcessor {
	return &FollowUpProcessor{handler: h}
}

// ProcessTask retries transient store errors; a malformed payload or a call
// that no longer exists is dropped.
func (p *FollowUpProcessor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	f, err := ParseCallFollowUpPayload(task)
	if err != nil {
		return fmt.Errorf("%w: decode follow-up: %v", asynq.SkipRetry, err)
	}
	err = p.handler.Apply(ctx, f)
	switch {
	case err == nil:
		metrics.RecordFollowUp(ctx, "success")
		return nil
	case errors.Is(err, leads.ErrCallNotFound), errors.Is(err, leads.ErrLeadNotFound):
		metrics.RecordFollowUp(ctx, "dropped")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	default:
		metrics.RecordFollowUp(ctx, "failed")
		return err
	}
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

func NewWorker(cfg config.Config, h *calls.FollowUpHandler, log *slog.Logger) *Worker {
	queue := cfg.Jobs.Queue
	if queue == "" {
		queue = "default"
	}
	concurrency := cfg.Jobs.Concurrency
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(redisClientOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      asynqLogger{log},
		BaseContext: func() context.Context { return logger.With(context.Background(), log) },
	})

	mux := asynq.NewServeMux()
	mux.Handle(TaskCallFollowUp, NewFollowUpProcessor(h))
	return &Worker{server: server, mux: mux, log: log}
}

// Run blocks until ctx is cancelled, then drains in-flight tasks.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start worker: %w", err)
	}
	<-ctx.Done()
	w.log.Info("jobs: shutting down worker")
	w.server.Shutdown()
	return nil
}

// asynqLogger adapts slog to asynq.Logger.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
