package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
	jobmetrics "github.com/training-insights/dashboard/internal/jobs"
)

type recordingLoader struct {
	mu    sync.Mutex
	calls []filters.Options
	fail  string
}

func (l *recordingLoader) Insights(_ context.Context, opts filters.Options) (*insightsapi.Payload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, opts)
	if l.fail != "" && opts.Department == l.fail {
		return nil, errors.New("upstream down")
	}
	return &insightsapi.Payload{}, nil
}

type staticRegistry []string

func (r staticRegistry) KnownDepartments(context.Context) ([]string, error) {
	return r, nil
}

func newWarmupJob(loader PayloadLoader, registry DepartmentRegistry) *CacheWarmupJob {
	job := NewCacheWarmupJob(loader, registry, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return time.Date(2024, 6, 30, 8, 0, 0, 0, time.UTC) }
	return job
}

func TestCacheWarmupLoadsPresetsForEachDepartment(t *testing.T) {
	loader := &recordingLoader{}
	job := newWarmupJob(loader, staticRegistry{"Sales", "Operations"})
	task, err := NewCacheWarmupTask(CacheWarmupPayload{Presets: []string{"7days", "30days"}, Departments: true})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, loader.calls, 6)
	assert.Contains(t, loader.calls, filters.Options{
		DateRange:  filters.DateRange{Start: "2024-06-23", End: "2024-06-30"},
		Department: "Sales",
	})
	assert.Contains(t, loader.calls, filters.Options{
		DateRange:  filters.DateRange{Start: "2024-05-31", End: "2024-06-30"},
		Department: filters.AllDepartments,
	})
}

func TestCacheWarmupDefaultsToAllPresets(t *testing.T) {
	loader := &recordingLoader{}
	job := newWarmupJob(loader, staticRegistry{"Sales"})

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskCacheWarmup, nil)))
	assert.Len(t, loader.calls, len(filters.Presets()))
	for _, call := range loader.calls {
		assert.Equal(t, filters.AllDepartments, call.Department)
	}
}

func TestCacheWarmupReportsFailuresAfterFinishing(t *testing.T) {
	loader := &recordingLoader{fail: "Sales"}
	job := newWarmupJob(loader, staticRegistry{"Sales"})
	task, err := NewCacheWarmupTask(CacheWarmupPayload{Presets: []string{"7days"}, Departments: true})
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Len(t, loader.calls, 2)
}

func TestCacheWarmupRejectsUnknownPreset(t *testing.T) {
	job := newWarmupJob(&recordingLoader{}, nil)
	payload, _ := json.Marshal(CacheWarmupPayload{Presets: []string{"forever"}})

	err := job.Handle(context.Background(), asynq.NewTask(TaskCacheWarmup, payload))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type countingBumper struct {
	n   int
	err error
}

func (b *countingBumper) Bump(context.Context) error {
	b.n++
	return b.err
}

func TestCacheBumpJob(t *testing.T) {
	bumper := &countingBumper{}
	job := NewCacheBumpJob(bumper, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewCacheBumpTask(CacheBumpPayload{Reason: "import"})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, bumper.n)

	bumper.err = errors.New("redis down")
	assert.Error(t, job.Handle(context.Background(), task))

	var nilJob *CacheBumpJob
	assert.Error(t, nilJob.Handle(context.Background(), task))
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (e *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

func (e *recordingEnqueuer) Close() error { return nil }

func TestClientEnqueue(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	client := NewClientWith(enqueuer)

	_, err := client.EnqueueWarmup(context.Background(), CacheWarmupPayload{Departments: true})
	require.NoError(t, err)
	_, err = client.EnqueueBump(context.Background(), "manual")
	require.NoError(t, err)
	_, err = client.EnqueueByName(context.Background(), "nope")
	require.Error(t, err)

	require.Len(t, enqueuer.tasks, 2)
	assert.Equal(t, TaskCacheWarmup, enqueuer.tasks[0].Type())
	assert.Equal(t, TaskCacheBump, enqueuer.tasks[1].Type())
	assert.JSONEq(t, `{"departments":true}`, string(enqueuer.tasks[0].Payload()))
	assert.Equal(t, []string{TaskCacheBump, TaskCacheWarmup}, TaskNames())
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":3`)

	r = chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
