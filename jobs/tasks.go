package jobs

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarmup loads dashboard payloads for the presets into the shared cache.
	TaskCacheWarmup = "dashboard:cache_warmup"
	// TaskCacheBump invalidates every cached payload and narrative.
	TaskCacheBump = "dashboard:cache_bump"
)

// CacheWarmupPayload selects what a warmup run loads. Empty Presets means all presets.
type CacheWarmupPayload struct {
	Presets     []string `json:"presets,omitempty"`
	Departments bool     `json:"departments"`
}

// CacheBumpPayload records why the cache was invalidated.
type CacheBumpPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewCacheWarmupTask constructs a warmup task.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data, asynq.Queue(QueueDefault), asynq.Unique(defaultUniqueTTL)), nil
}

// NewCacheBumpTask constructs a cache bump task.
func NewCacheBumpTask(payload CacheBumpPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheBump, data, asynq.Queue(QueueDefault)), nil
}

// TaskFactories maps task names to constructors using default payloads, for manual triggers.
var TaskFactories = map[string]func() (*asynq.Task, error){
	TaskCacheWarmup: func() (*asynq.Task, error) {
		return NewCacheWarmupTask(CacheWarmupPayload{Departments: true})
	},
	TaskCacheBump: func() (*asynq.Task, error) {
		return NewCacheBumpTask(CacheBumpPayload{Reason: "manual"})
	},
}

// TaskNames lists the task names accepted by NewTaskByName, sorted.
func TaskNames() []string {
	names := make([]string, 0, len(TaskFactories))
	for name := range TaskFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewTaskByName builds a task with its default payload.
func NewTaskByName(name string) (*asynq.Task, error) {
	factory, ok := TaskFactories[name]
	if !ok {
		return nil, fmt.Errorf("jobs: unknown task %q", name)
	}
	return factory()
}
