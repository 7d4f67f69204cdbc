package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crm-calls/internal/calls"
	"crm-calls/internal/config"
	"crm-calls/internal/jobs"
	"crm-calls/internal/store"
	"crm-calls/pkg/logger"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if err := run(logger.With(rootCtx, log), cfg, log); err != nil {
		log.Error("worker exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Store.Driver == config.StoreDriverMemory {
		return errors.New("worker needs a shared store; STORE_DRIVER=memory is process-local")
	}

	st, err := store.Open(ctx, cfg, log, store.Options{AppName: "crm-calls-worker"})
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	w := jobs.NewWorker(cfg, calls.NewFollowUpHandler(st.Leads), log)
	log.Info("worker started", "queue", cfg.Jobs.Queue, "concurrency", cfg.Jobs.Concurrency, "store", cfg.Store.Driver)
	return w.Run(ctx)
}
