package insightsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/training-insights/dashboard/internal/filters"
)

const samplePayload = `{
  "metadata": {"generatedAt": "2024-06-15T10:00:00Z", "version": "1.0"},
  "totalSessions": 120,
  "passRate": 72.5,
  "overallSkillAverage": 78.2,
  "averageScoresByDepartment": [
    {"department": "Sales", "average": 80, "communicationAvg": 82, "problemSolvingAvg": 79, "productKnowledgeAvg": 77, "customerServiceAvg": 81, "passRate": 75}
  ],
  "topSkills": [{"skill": "Communication", "average": 82}],
  "performanceTrends": [{"date": "2024-06-01", "averageScore": 76}]
}`

func newTestClient(t *testing.T, srv *httptest.Server, token TokenProvider) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: srv.URL + "/api/v1/", Token: token, Timeout: time.Second})
	require.NoError(t, err)
	return client
}

func TestInsightsSendsFiltersAndToken(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, StaticToken("secret"))
	payload, err := client.Insights(context.Background(), filters.Options{
		Department: "Sales",
		DateRange:  filters.DateRange{Start: "2024-06-01", End: "2024-06-15"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/insights", gotPath)
	assert.Equal(t, "department=Sales&endDate=2024-06-15&startDate=2024-06-01", gotQuery)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.NotEmpty(t, gotReqID)
	assert.Equal(t, 120, payload.TotalSessions)
	require.NotNil(t, payload.OverallSkillAverage)
	assert.InDelta(t, 78.2, *payload.OverallSkillAverage, 1e-9)
	assert.Nil(t, payload.AverageCompletionTime)
	assert.Equal(t, []string{"Sales"}, payload.Departments())
}

func TestInsightsOmitsAllDepartmentAndEmptyToken(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, StaticToken(""))
	_, err := client.Insights(context.Background(), filters.Default())
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
	assert.Empty(t, gotAuth)
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		kind      Kind
		permanent bool
		message   string
	}{
		{http.StatusBadRequest, KindClient, true, "Invalid request. Please check your input and try again."},
		{http.StatusUnauthorized, KindAuthExpired, true, "You are not authorized to perform this action. Please log in again."},
		{http.StatusTooManyRequests, KindClient, true, "Too many requests. Please wait a moment and try again."},
		{http.StatusTeapot, KindClient, true, "API Error: 418 I'm a teapot"},
		{http.StatusServiceUnavailable, KindServer, false, "Service unavailable. Please try again later."},
		{http.StatusGatewayTimeout, KindServer, false, "Gateway timeout. Please try again later."},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"nope"}`, tc.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, nil).Insights(context.Background(), filters.Default())
			require.Error(t, err)
			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.kind, apiErr.Kind)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.permanent, IsPermanent(err))
			assert.Contains(t, string(apiErr.Body), "nope")
			assert.Equal(t, tc.message, FormatError(err))
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(t, srv, nil)
	srv.Close()

	_, err := client.Insights(context.Background(), filters.Default())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, 0, StatusOf(err))
	assert.False(t, IsPermanent(err))
	assert.Equal(t, NetworkErrorMessage, FormatError(err))
}

func TestTimeoutIsRetryableNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = client.Insights(context.Background(), filters.Default())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.False(t, IsPermanent(err))
}

func TestNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).Insights(context.Background(), filters.Default())
	require.Error(t, err)
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Contains(t, FormatError(err), "Expected JSON response")
}

func TestNarrative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/natural-language-insights", r.URL.Path)
		assert.Equal(t, "Support", r.URL.Query().Get("department"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
		  "metadata": {"generatedAt": "2024-06-15T10:00:00Z", "version": "1.0", "filters": {"department": "Support", "startDate": "", "endDate": ""}},
		  "summary": {"totalSessions": 12, "passRate": 50, "averageCompletionTime": 31.5, "overallSkillAverage": 70},
		  "naturalLanguageInsights": "Support improved steadily."
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	narrative, err := client.Narrative(context.Background(), filters.Options{Department: "Support"})
	require.NoError(t, err)
	assert.Equal(t, "Support improved steadily.", narrative.Text)
	assert.Equal(t, 12, narrative.Summary.TotalSessions)
	assert.Equal(t, "Support", narrative.Metadata.Filters.Department)
}

func TestObserverAndHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dashboard", r.Header.Get("X-Client"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	var kinds []Kind
	client, err := NewClient(Config{
		BaseURL: srv.URL,
		Observe: func(endpoint string, kind Kind, status int, elapsed time.Duration) {
			assert.Equal(t, "insights", endpoint)
			kinds = append(kinds, kind)
		},
		RequestHooks: []func(*http.Request) error{
			func(r *http.Request) error { r.Header.Set("X-Client", "dashboard"); return nil },
		},
	})
	require.NoError(t, err)
	_, err = client.Insights(context.Background(), filters.Default())
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindNone}, kinds)
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "localhost:8000"})
	assert.Error(t, err)
}

func TestFormatErrorFallbacks(t *testing.T) {
	assert.Equal(t, "", FormatError(nil))
	assert.Equal(t, "boom", FormatError(errors.New("boom")))
	assert.Equal(t, fallbackMessage, FormatError(&Error{}))
	assert.Equal(t, NetworkErrorMessage, FormatError(context.DeadlineExceeded))
	assert.Equal(t, fallbackMessage, FormatError(fmt.Errorf("load: %w", context.Canceled)))
	assert.False(t, IsPermanent(context.Canceled))
}

func TestCallerDeadlineIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, srv, nil).Insights(ctx, filters.Default())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, NetworkErrorMessage, FormatError(err))
}

func TestCallerCancelIsReturnedAsIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := newTestClient(t, srv, nil).Insights(ctx, filters.Default())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsPermanent(err))
}
