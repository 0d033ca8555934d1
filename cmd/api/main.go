package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetroute/internal/api"
	"fleetroute/internal/broker"
	"fleetroute/internal/config"
	"fleetroute/internal/distance"
	"fleetroute/internal/events"
	"fleetroute/internal/jobs"
	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
	"fleetroute/internal/optimizer"
	"fleetroute/internal/store"
	"fleetroute/internal/tracing"
	"fleetroute/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "config load failed", logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.ConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "tracing init failed", logging.Err(err))
		os.Exit(1)
	}
	defer tracing.Shutdown(context.Background(), shutdownTracing, log)

	metrics.RegisterDefault()
	obs := events.Multi(events.LogObserver{Log: log}, events.MetricsObserver{})

	// Distance cache: in-process LRU in front of the shared backend, if any.
	checks := map[string]api.Pinger{}
	var cache distance.Cache = distance.NewMemoryCache(distance.DefaultCacheSize)
	backend, err := store.FromEnv(ctx)
	switch {
	case err == nil:
		defer func() { _ = backend.Close() }()
		cache = distance.Tiered{Front: cache, Back: backend}
		checks["distance_cache"] = backend
		log.Info(ctx, "shared distance cache enabled")
	case errors.Is(err, store.ErrNotConfigured):
	default:
		log.Warn(ctx, "shared distance cache unavailable; memory only", logging.Err(err))
	}

	var provider distance.Provider
	if cfg.OSRM.URL != "" {
		provider = distance.NewOSRMProvider(cfg.OSRM.URL, cfg.OSRM.Profile, cfg.OSRM.RPS)
		log.Info(ctx, "road distance provider configured", logging.String("url", cfg.OSRM.URL))
	}

	svc := optimizer.New(distance.NewBuilder(provider, cache, obs), obs)
	svc.Defaults = cfg.Optimizer
	svc.Rates = cfg.Rates
	svc.Profiles = cfg.Profiles
	svc.FuelPrice = cfg.FuelPrice

	var b broker.Broker = broker.NewMemory()
	if cfg.RedisURL != "" {
		rb, err := broker.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Warn(ctx, "redis broker unavailable; in-memory events", logging.Err(err))
		} else {
			defer func() { _ = rb.Close() }()
			b = rb
		}
	}

	deliveries := webhooks.NewMemory()
	pub := webhooks.NewPublisher(deliveries, cfg.Webhooks.Secret)
	worker := webhooks.NewWorker(deliveries, cfg.Webhooks.MaxAttempts)
	worker.Log = log
	go worker.Run(ctx)

	queue := jobs.New(svc, jobs.Options{
		MaxJobs:   cfg.Jobs.Max,
		Retention: cfg.Jobs.Retention,
		Broker:    b,
		Observer:  obs,
		OnFinish: func(ctx context.Context, j jobs.Job) {
			if j.CallbackURL == "" {
				return
			}
			evt := webhooks.EventJobCompleted
			if j.Status == jobs.StatusFailed {
				evt = webhooks.EventJobFailed
			}
			if _, err := pub.Emit(ctx, j.CallbackURL, evt, j); err != nil {
				log.Warn(ctx, "webhook enqueue failed", logging.String("job_id", j.ID), logging.Err(err))
			}
		},
	})
	queue.Start(ctx)
	defer queue.Close()

	srv := api.NewServer(svc, queue, b)
	srv.Deliveries = deliveries
	srv.Checks = checks
	srv.Log = log

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           logMiddleware(log, srv.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}()

	log.Info(ctx, "API listening", logging.String("addr", httpSrv.Addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(ctx, "server error", logging.Err(err))
	}
}

func logMiddleware(log logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info(r.Context(), "http request",
			logging.String("request_id", w.Header().Get("X-Request-Id")),
			logging.String("remote", r.RemoteAddr),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("duration", time.Since(start)),
		)
	})
}
