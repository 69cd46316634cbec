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

	"github.com/training-insights/dashboard/cmd/dashboard/cli"
	"github.com/training-insights/dashboard/internal/analytics"
	"github.com/training-insights/dashboard/internal/analytics/export"
	analytichttp "github.com/training-insights/dashboard/internal/analytics/http"
	"github.com/training-insights/dashboard/internal/app"
	"github.com/training-insights/dashboard/internal/insights"
	insightshttp "github.com/training-insights/dashboard/internal/insights/http"
	"github.com/training-insights/dashboard/internal/insightsapi"
	"github.com/training-insights/dashboard/internal/observability"
	"github.com/training-insights/dashboard/internal/platform/cache"
	"github.com/training-insights/dashboard/internal/query"
	"github.com/training-insights/dashboard/internal/shared"
	"github.com/training-insights/dashboard/internal/view"
	"github.com/training-insights/dashboard/jobs"
	"github.com/training-insights/dashboard/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(cli.RunJobs(ctx, redisOpts, os.Args[2:], os.Stdout, os.Stderr))
	}

	logger := app.NewLogger(cfg)

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

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	tokenStore := shared.NewTokenStore(redisClient, cfg.SessionTTL, cfg.InsightsToken)

	templates, err := view.NewEngine(view.AppInfo{Name: cfg.AppName, Version: cfg.AppVersion})
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	apiClient, err := insightsapi.NewClient(insightsapi.Config{
		BaseURL: cfg.InsightsBaseURL,
		Timeout: cfg.InsightsTimeout,
		Token:   tokenStore,
		Observe: metrics.ObserveUpstream,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("init insights client", slog.Any("error", err))
		os.Exit(1)
	}

	payloadCache := analytics.NewCache(redisClient, cfg.CacheTTL)
	payloadCache.OnLookup(metrics.CacheLookup)
	if err := payloadCache.ListenForInvalidation(ctx, analytics.BumpChannel); err != nil {
		logger.Warn("subscribe cache invalidation", slog.Any("error", err))
	}
	analyticsService := analytics.NewService(apiClient, payloadCache, logger, analytics.WithCredentials(tokenStore))

	boards := analytics.NewBoards(analytics.BoardConfig{
		Fetch: analyticsService.Insights,
		Policy: query.RetryPolicy{
			MaxRetries: cfg.InsightsRetries,
			BaseDelay:  cfg.InsightsRetryDelay,
			MaxDelay:   cfg.InsightsRetryMax,
		},
		Recorder: metrics.QueryRecorder(),
		Tokens:   tokenStore,
		Logger:   logger,
	},
		analytics.WithIdleTTL(cfg.BoardIdleTTL),
		analytics.WithBoardCount(metrics.SetBoards),
	)
	defer boards.Close()
	go boards.Run(ctx, time.Minute)
	startup := time.AfterFunc(cfg.StartupDelay, boards.SetReady)
	defer startup.Stop()

	reportClient := report.NewClient(cfg.GotenbergURL)
	analyticsHandler := analytichttp.NewHandler(
		logger,
		boards,
		analyticsService,
		templates,
		chartRenderers(),
		export.NewPDFExporter(reportClient),
		csrfManager,
		tokenStore,
		analytichttp.Config{
			AppName:     cfg.AppName,
			LoginURL:    cfg.LoginURL,
			ShowTimeout: cfg.PageWait,
			ExportLimit: cfg.ExportRatePerMinute,
		},
	)

	narrativeService := insights.NewService(apiClient, payloadCache, logger, insights.WithCredentials(tokenStore))
	insightsHandler := insightshttp.NewHandler(logger, narrativeService, templates, cfg.LoginURL)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AnalyticsHandler: analyticsHandler,
		InsightsHandler:  insightsHandler,
		ReportHandler:    report.NewHandler(reportClient, logger),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
