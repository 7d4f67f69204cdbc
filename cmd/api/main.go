package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-calls/internal/audit"
	"crm-calls/internal/auth"
	"crm-calls/internal/calls"
	"crm-calls/internal/config"
	"crm-calls/internal/httpapi"
	"crm-calls/internal/jobs"
	"crm-calls/internal/metrics"
	"crm-calls/internal/realtime"
	"crm-calls/internal/reporting"
	"crm-calls/internal/store"
	"crm-calls/internal/telephony"
	"crm-calls/pkg/httpkit"
	"crm-calls/pkg/logger"
	"crm-calls/pkg/utils"
	"crm-calls/pkg/validate"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const serviceName = "crm-calls-api"

// needsRedis reports whether a feature using the shared go-redis client is
// on. Queued follow-ups dial Redis through asynq on their own.
func needsRedis(cfg config.Config) bool {
	return cfg.Realtime.RedisRelay || cfg.Calls.MaxInFlightPerUser > 0
}

func main() {
	// Root context that cancels on shutdown
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
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	metricsHandler, err := metrics.InitMeterProvider(ctx, serviceName)
	if err != nil {
		return err
	}
	if err := metrics.InitMetrics(ctx); err != nil {
		return err
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg, log, store.Options{Migrate: cfg.Store.MigrateOnStart, AppName: "crm-calls-api"})
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	var rdb *redis.Client
	if needsRedis(cfg) {
		rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:       cfg.RedisAddr(),
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			ClientName: "crm-calls-api",
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	provider, err := telephony.NewRetellProvider(telephony.RetellConfig{
		APIKey:     cfg.Retell.APIKey,
		AgentID:    cfg.Retell.AgentID,
		FromNumber: cfg.Retell.FromNumber,
		BaseURL:    cfg.Retell.BaseURL,
		Timeout:    cfg.Retell.Timeout,
	}, nil)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	hub := realtime.NewHub()
	defer hub.Close()
	var broadcaster realtime.Broadcaster = hub
	if cfg.Realtime.RedisRelay {
		relay := realtime.NewRedisRelay(rdb, hub)
		broadcaster = relay
		g.Go(func() error { return relay.Run(gctx) })
	}

	followUpHandler := calls.NewFollowUpHandler(st.Leads)
	var followUps calls.FollowUpDispatcher
	switch cfg.Jobs.FollowUpMode {
	case config.FollowUpModeQueue:
		d := jobs.NewDispatcher(cfg)
		defer d.Close()
		followUps = d
	default:
		inline := calls.NewInlineDispatcher(followUpHandler, cfg.Calls.FollowUpTimeout)
		defer inline.Wait()
		followUps = inline
	}

	var inFlight calls.InFlightLimiter
	if cfg.Calls.MaxInFlightPerUser > 0 {
		inFlight = calls.NewRedisInFlight(rdb, cfg.Calls.MaxInFlightPerUser, cfg.Calls.InFlightTTL)
	}

	orchestrator, err := calls.NewOrchestrator(calls.OrchestratorDeps{
		Leads:      st.Leads,
		Provider:   provider,
		Validator:  validate.New(cfg.Retell.PhoneRegion),
		FollowUps:  followUps,
		Audit:      audit.NewService(st.Audit),
		InFlight:   inFlight,
		FromNumber: cfg.Retell.FromNumber,
	})
	if err != nil {
		return err
	}

	h := httpapi.Handlers{
		Calls:         orchestrator,
		Events:        calls.NewReconciler(st.Leads, broadcaster),
		Logs:          calls.NewLogReader(st.Leads),
		Reporting:     reporting.NewService(st.Leads),
		WebhookSecret: cfg.Webhook.Secret,
		ExposeDetails: !cfg.IsProduction(),
	}
	if h.WebhookSecret == "" {
		log.Warn("webhook signature verification disabled", "hint", "set RETELL_WEBHOOK_SECRET")
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	webhookLimiter := httpkit.NewIPRateLimiter(rate.Limit(float64(cfg.Webhook.RatePerMin)/60), cfg.Webhook.Burst)
	registerRoutes(r, routeDeps{
		handlers:       h,
		authMW:         auth.RequireAccessToken(authManager),
		streamAuthMW:   auth.RequireStreamToken(authManager),
		webhookLimiter: webhookLimiter.Middleware(),
		stream:         hub.Handler(),
		ready:          st.Ping,
	})
	if cfg.App.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE streams are long-lived; handlers bound their own writes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver, "followups", cfg.Jobs.FollowUpMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		// Close SSE streams first so Shutdown is not held open by them.
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}
