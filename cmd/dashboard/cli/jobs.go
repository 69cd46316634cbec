package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/training-insights/dashboard/jobs"
)

// Inspector is the subset of asynq.Inspector used by the CLI.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    jobs.Enqueuer
	inspector Inspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis connection.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(redisOpts), inspector: asynq.NewInspector(redisOpts)}
}

// NewJobsCLIWith builds the helpers from existing clients.
func NewJobsCLIWith(client jobs.Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewTaskByName(name)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// RunJobs executes `jobs <trigger|stats|scheduled>` and returns the process exit code.
func RunJobs(ctx context.Context, redisOpts asynq.RedisClientOpt, args []string, stdout, stderr io.Writer) int {
	c := NewJobsCLI(redisOpts)
	defer func() { _ = c.Close() }()
	return c.Command(ctx, args, stdout, stderr)
}

// Command dispatches a jobs subcommand.
func (c *JobsCLI) Command(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 2
	}
	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOutput := fs.Bool("json", false, "print JSON")
	size := fs.Int("size", 10, "number of scheduled tasks to list")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	switch args[0] {
	case "trigger":
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, usage())
			return 2
		}
		info, err := c.Trigger(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "trigger %s: %v\n", fs.Arg(0), err)
			return 1
		}
		if *jsonOutput {
			return writeJSON(stdout, stderr, map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
		}
		fmt.Fprintf(stdout, "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "stats: %v\n", err)
			return 1
		}
		if *jsonOutput {
			return writeJSON(stdout, stderr, stats)
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	case "scheduled":
		tasks, err := c.ListScheduled(ctx, *size)
		if err != nil {
			fmt.Fprintf(stderr, "scheduled: %v\n", err)
			return 1
		}
		for _, task := range tasks {
			fmt.Fprintf(stdout, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
	default:
		fmt.Fprintln(stderr, usage())
		return 2
	}
	return 0
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}

func usage() string {
	return "usage: dashboard jobs <trigger NAME|stats|scheduled> [-json] [-size N]\njobs: " + strings.Join(jobs.TaskNames(), ", ")
}
