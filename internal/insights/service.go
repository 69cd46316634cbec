// Package insights serves the natural-language narrative that accompanies the dashboard.
package insights

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/training-insights/dashboard/internal/analytics"
	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
)

// Source is the upstream narrative endpoint.
type Source interface {
	Narrative(ctx context.Context, opts filters.Options) (*insightsapi.Narrative, error)
}

// Service loads narratives through the shared versioned cache, so a cache bump refreshes
// narratives together with dashboard payloads.
type Service struct {
	api     Source
	cache   *analytics.Cache
	creds   insightsapi.TokenProvider
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithCredentials partitions cached narratives by the caller's bearer token.
func WithCredentials(creds insightsapi.TokenProvider) Option {
	return func(s *Service) { s.creds = creds }
}

// NewService constructs the narrative service. cache may be nil.
func NewService(api Source, cache *analytics.Cache, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{api: api, cache: cache, timeout: 30 * time.Second, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the narrative for opts.
func (s *Service) Load(ctx context.Context, opts filters.Options) (*insightsapi.Narrative, error) {
	partition, err := analytics.ResolvePartition(ctx, s.creds)
	if err != nil {
		return nil, err
	}
	key, err := s.cache.BuildKey(ctx, append([]string{"dashboard", "narrative", partition}, opts.KeyParts()...)...)
	if err != nil {
		return nil, err
	}
	value, err := analytics.Share(ctx, &s.group, key, s.timeout, func(ctx context.Context) (interface{}, error) {
		var narrative insightsapi.Narrative
		err := s.cache.FetchJSON(ctx, key, &narrative, func(ctx context.Context) (interface{}, error) {
			return s.api.Narrative(ctx, opts)
		})
		if err != nil {
			return nil, err
		}
		return &narrative, nil
	})
	if err != nil {
		s.logger.Debug("narrative load failed", slog.String("filter", opts.Summary()), slog.Any("error", err))
		return nil, err
	}
	return value.(*insightsapi.Narrative), nil
}
