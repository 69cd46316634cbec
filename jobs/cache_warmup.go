package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
	jobmetrics "github.com/training-insights/dashboard/internal/jobs"
)

const (
	defaultUniqueTTL = 10 * time.Minute
	warmupParallel   = 4
	warmupTimeout    = 20 * time.Second
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PayloadLoader loads a dashboard payload through the shared cache.
type PayloadLoader interface {
	Insights(ctx context.Context, opts filters.Options) (*insightsapi.Payload, error)
}

// DepartmentRegistry lists the departments seen by earlier loads.
type DepartmentRegistry interface {
	KnownDepartments(ctx context.Context) ([]string, error)
}

// CacheWarmupJob loads every preset for All and, optionally, each known department so that
// the first page view after an invalidation is served from cache.
type CacheWarmupJob struct {
	Loader   PayloadLoader
	Registry DepartmentRegistry
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(loader PayloadLoader, registry DepartmentRegistry, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{
		Loader:   loader,
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Loader == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("cache warmup: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	presets, err := parsePresets(payload.Presets)
	if err != nil {
		return fmt.Errorf("cache warmup: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskCacheWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	departments := []string{filters.AllDepartments}
	if payload.Departments && j.Registry != nil {
		known, err := j.Registry.KnownDepartments(ctx)
		if err != nil {
			return fmt.Errorf("cache warmup: list departments: %w", err)
		}
		departments = append(departments, known...)
	}

	logger := j.logger().With(slog.Int("presets", len(presets)), slog.Int("departments", len(departments)))
	logger.Info("starting cache warmup")
	start := time.Now()
	today := j.now()

	var (
		mu     sync.Mutex
		warmed = make(map[filters.Preset]int, len(presets))
		errs   []error
	)
	g := new(errgroup.Group)
	g.SetLimit(warmupParallel)
	for _, preset := range presets {
		rng, err := filters.PresetRange(preset, today)
		if err != nil {
			return err
		}
		for _, dept := range departments {
			opts := filters.Options{DateRange: rng, Department: dept}
			g.Go(func() error {
				loadCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
				defer cancel()
				_, err := j.Loader.Insights(loadCtx, opts)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", opts.Summary(), err))
					return nil
				}
				warmed[preset]++
				return nil
			})
		}
	}
	_ = g.Wait()

	total := 0
	for preset, n := range warmed {
		j.metrics().AddWarmed(string(preset), n)
		total += n
	}
	if len(errs) > 0 {
		logger.Warn("cache warmup incomplete", slog.Int("warmed", total), slog.Int("failed", len(errs)), slog.Any("error", errs[0]))
		return errors.Join(errs...)
	}
	logger.Info("completed cache warmup", slog.Int("warmed", total), slog.Duration("duration", time.Since(start)))
	return nil
}

func parsePresets(names []string) ([]filters.Preset, error) {
	if len(names) == 0 {
		return filters.Presets(), nil
	}
	out := make([]filters.Preset, 0, len(names))
	for _, name := range names {
		p, err := filters.ParsePreset(name)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarmup))
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CacheWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
