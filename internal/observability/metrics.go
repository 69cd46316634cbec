package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/training-insights/dashboard/internal/insightsapi"
)

// Metrics collects the Prometheus metrics exposed by the dashboard.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	upstreamTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	queryRetries     prometheus.Counter
	queryStale       prometheus.Counter
	queryOutcomes    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	boardsActive     prometheus.Gauge
}

// NewMetrics initialises the registry and every dashboard collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	upstream := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_upstream_requests_total",
		Help: "Insights API calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome", "code"})
	upstreamDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_upstream_request_duration_seconds",
		Help:    "Insights API call latency per endpoint.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_query_retries_total",
		Help: "Automatic retries scheduled by the query orchestrator.",
	})
	stale := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_query_stale_total",
		Help: "Responses discarded because their filter was superseded.",
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_query_outcomes_total",
		Help: "Terminal fetch cycle outcomes.",
	}, []string{"outcome"})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_cache_lookups_total",
		Help: "Payload cache lookups by result.",
	}, []string{"cache", "result"})
	boards := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_boards_active",
		Help: "Per-session dashboards currently held in memory.",
	})
	registry.MustRegister(requests, duration, upstream, upstreamDuration, retries, stale, outcomes, cacheLookups, boards)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		upstreamTotal:    upstream,
		upstreamDuration: upstreamDuration,
		queryRetries:     retries,
		queryStale:       stale,
		queryOutcomes:    outcomes,
		cacheLookups:     cacheLookups,
		boardsActive:     boards,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records route metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveUpstream matches insightsapi.Observer.
func (m *Metrics) ObserveUpstream(endpoint string, kind insightsapi.Kind, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamTotal.WithLabelValues(endpoint, kind.String(), strconv.Itoa(status)).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// CacheLookup counts a hit or miss on the named cache.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// SetBoards reports the number of live per-session dashboards.
func (m *Metrics) SetBoards(n int) {
	if m == nil {
		return
	}
	m.boardsActive.Set(float64(n))
}

// QueryRecorder feeds orchestrator lifecycle events into the query collectors.
func (m *Metrics) QueryRecorder() *QueryRecorder {
	return &QueryRecorder{metrics: m}
}

// QueryRecorder implements query.Recorder.
type QueryRecorder struct {
	metrics *Metrics
}

// Retry counts a scheduled retry.
func (r *QueryRecorder) Retry() {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.queryRetries.Inc()
}

// Stale counts a discarded response.
func (r *QueryRecorder) Stale() {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.queryStale.Inc()
}

// Outcome counts a terminal state.
func (r *QueryRecorder) Outcome(outcome string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.queryOutcomes.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
