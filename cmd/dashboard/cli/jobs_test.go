package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/training-insights/dashboard/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func (s stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, s.err
}

func (s stubInspector) Close() error { return nil }

func TestTriggerCommandJSON(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	c := NewJobsCLIWith(enqueuer, stubInspector{})

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.Command(context.Background(), []string{"trigger", "-json", jobs.TaskCacheBump}, stdout, stderr)
	require.Zero(t, code)
	require.Empty(t, stderr.String())
	require.Len(t, enqueuer.tasks, 1)

	var out map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Equal(t, jobs.TaskCacheBump, out["type"])
}

func TestTriggerCommandUnknownJob(t *testing.T) {
	c := NewJobsCLIWith(&stubEnqueuer{}, stubInspector{})
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.Command(context.Background(), []string{"trigger", "reindex"}, stdout, stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "unknown task")
}

func TestStatsCommand(t *testing.T) {
	c := NewJobsCLIWith(&stubEnqueuer{}, stubInspector{info: &asynq.QueueInfo{Pending: 2, Retry: 1}})
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Zero(t, c.Command(context.Background(), []string{"stats"}, stdout, stderr))
	require.Contains(t, stdout.String(), "pending=2")
	require.Contains(t, stdout.String(), "retry=1")

	c = NewJobsCLIWith(&stubEnqueuer{}, stubInspector{err: errors.New("redis down")})
	stderr.Reset()
	require.Equal(t, 1, c.Command(context.Background(), []string{"stats"}, stdout, stderr))
	require.Contains(t, stderr.String(), "redis down")
}

func TestCommandUsage(t *testing.T) {
	c := NewJobsCLIWith(&stubEnqueuer{}, stubInspector{})
	stderr := new(bytes.Buffer)
	require.Equal(t, 2, c.Command(context.Background(), nil, new(bytes.Buffer), stderr))
	require.Contains(t, stderr.String(), jobs.TaskCacheWarmup)
	require.Equal(t, 2, c.Command(context.Background(), []string{"trigger"}, new(bytes.Buffer), stderr))
}
