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

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/training-insights/dashboard/internal/analytics"
	"github.com/training-insights/dashboard/internal/app"
	"github.com/training-insights/dashboard/internal/insightsapi"
	jobmetrics "github.com/training-insights/dashboard/internal/jobs"
	"github.com/training-insights/dashboard/internal/platform/cache"
	"github.com/training-insights/dashboard/internal/shared"
	"github.com/training-insights/dashboard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// Warmup has no session, so it always uses the service token.
	tokenStore := shared.NewTokenStore(redisClient, cfg.SessionTTL, cfg.InsightsToken)
	apiClient, err := insightsapi.NewClient(insightsapi.Config{
		BaseURL: cfg.InsightsBaseURL,
		Timeout: cfg.InsightsTimeout,
		Token:   tokenStore,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("init insights client", slog.Any("error", err))
		os.Exit(1)
	}

	payloadCache := analytics.NewCache(redisClient, cfg.CacheTTL)
	// Warmup runs without a session, so it fills the fallback credential's partition.
	service := analytics.NewService(apiClient, payloadCache, logger, analytics.WithCredentials(tokenStore))
	metrics := jobmetrics.NewMetrics(nil)

	warmupJob := jobs.NewCacheWarmupJob(service, service, logger, metrics)
	bumpJob := jobs.NewCacheBumpJob(payloadCache, logger, metrics)

	warmupTask, err := jobs.NewCacheWarmupTask(jobs.CacheWarmupPayload{Departments: true})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	var cron []jobs.CronRegistration
	if cfg.WarmupCron != "" {
		cron = append(cron, jobs.CronRegistration{Spec: cfg.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskCacheBump, Handler: bumpJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
