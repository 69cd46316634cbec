package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/training-insights/dashboard/internal/jobs"
)

// CacheBumper invalidates the shared payload cache.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// CacheBumpJob raises the cache version; every dashboard instance picks it up over pub/sub.
type CacheBumpJob struct {
	Cache   CacheBumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheBumpJob constructs the bump handler.
func NewCacheBumpJob(cache CacheBumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheBumpJob {
	return &CacheBumpJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes cache bump tasks.
func (j *CacheBumpJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("cache bump: handler not configured")
	}
	var payload CacheBumpPayload
	if len(t.Payload()) > 0 {
		_ = json.Unmarshal(t.Payload(), &payload)
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskCacheBump)
	err := j.Cache.Bump(ctx)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err != nil {
		logger.Error("cache bump failed", slog.String("reason", payload.Reason), slog.Any("error", err))
	} else {
		logger.Info("cache bumped", slog.String("reason", payload.Reason))
	}
	return tracker.End(err)
}
