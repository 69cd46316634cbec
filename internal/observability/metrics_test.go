package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/training-insights/dashboard/internal/insightsapi"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "dashboard_query_retries_total") {
		t.Fatalf("expected body to contain dashboard_query_retries_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestUpstreamAndQueryMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveUpstream("insights", insightsapi.KindServer, http.StatusServiceUnavailable, 120*time.Millisecond)
	metrics.ObserveUpstream("insights", insightsapi.KindNone, http.StatusOK, 40*time.Millisecond)
	recorder := metrics.QueryRecorder()
	recorder.Retry()
	recorder.Retry()
	recorder.Stale()
	recorder.Outcome("success")
	metrics.CacheLookup("insights", true)
	metrics.SetBoards(3)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	for _, want := range []string{
		`dashboard_upstream_requests_total{code="503",endpoint="insights",outcome="server_error"} 1`,
		`dashboard_upstream_requests_total{code="200",endpoint="insights",outcome="ok"} 1`,
		"dashboard_query_retries_total 2",
		"dashboard_query_stale_total 1",
		`dashboard_query_outcomes_total{outcome="success"} 1`,
		`dashboard_cache_lookups_total{cache="insights",result="hit"} 1`,
		"dashboard_boards_active 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics to contain %q, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveUpstream("insights", insightsapi.KindNetwork, 0, time.Second)
	metrics.CacheLookup("insights", false)
	metrics.SetBoards(1)
	metrics.QueryRecorder().Retry()

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}
