// Package analytics serves the training dashboard: cached payload loading, per-session boards,
// HTTP handlers and chart rendering.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
	"github.com/training-insights/dashboard/internal/query"
)

const defaultLoadTimeout = 30 * time.Second

// Source is the upstream the service loads payloads from.
type Source interface {
	Insights(ctx context.Context, opts filters.Options) (*insightsapi.Payload, error)
}

// Service coordinates Insights API calls with the cache layer.
type Service struct {
	api     Source
	cache   *Cache
	creds   insightsapi.TokenProvider
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithCredentials partitions cached payloads by the bearer token creds resolves for each
// caller. It should be the provider the Source sends tokens from.
func WithCredentials(creds insightsapi.TokenProvider) ServiceOption {
	return func(s *Service) { s.creds = creds }
}

// WithLoadTimeout bounds a shared load, which outlives the caller that started it.
func WithLoadTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService wires a Source with a Cache helper. cache may be nil.
func NewService(api Source, cache *Cache, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{api: api, cache: cache, timeout: defaultLoadTimeout, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache exposes the underlying cache for jobs.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Insights resolves the payload for opts using cache-aware lookups. It satisfies
// query.FetchFunc. Concurrent loads of the same filter with the same credential share one
// upstream call; a caller that gives up does not cancel it for the others.
func (s *Service) Insights(ctx context.Context, opts filters.Options) (*insightsapi.Payload, error) {
	partition, err := ResolvePartition(ctx, s.creds)
	if err != nil {
		return nil, err
	}
	loader := func(ctx context.Context) (interface{}, error) {
		payload, err := s.api.Insights(ctx, opts)
		if err != nil {
			return nil, err
		}
		if err := s.cache.RememberDepartments(ctx, partition, payload.Departments()...); err != nil {
			s.logger.Warn("remember departments", slog.Any("error", err))
		}
		return payload, nil
	}

	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return value.(*insightsapi.Payload), nil
	}

	key, err := s.cache.BuildKey(ctx, keyInsights(partition, opts)...)
	if err != nil {
		return nil, err
	}
	flight := key
	if query.Forced(ctx) {
		flight += ":forced"
	}
	value, err := Share(ctx, &s.group, flight, s.timeout, func(ctx context.Context) (interface{}, error) {
		var payload insightsapi.Payload
		if err := s.cache.FetchJSON(ctx, key, &payload, loader); err != nil {
			return nil, err
		}
		return &payload, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*insightsapi.Payload), nil
}

// Share runs fn once per key across concurrent callers. fn gets ctx's values without its
// cancellation, bounded by timeout; each caller stops waiting when its own ctx ends.
func Share(ctx context.Context, group *singleflight.Group, key string, timeout time.Duration, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(flightCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// KnownDepartments lists departments recorded by loads made with the caller's credential.
func (s *Service) KnownDepartments(ctx context.Context) ([]string, error) {
	partition, err := ResolvePartition(ctx, s.creds)
	if err != nil {
		return nil, err
	}
	return s.cache.Departments(ctx, partition)
}

// Invalidate bumps the cache version so every cached payload is reloaded.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
