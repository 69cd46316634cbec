// Package query drives fetches of the dashboard payload for the applied filter.
package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
)

// State of the fetch cycle for the current filter.
type State int

// States are mutually exclusive.
const (
	StateIdle State = iota
	StateLoading
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

var (
	// ErrSuperseded is returned by Wait when a newer filter replaced the awaited one.
	ErrSuperseded = errors.New("query: filter superseded")
	// ErrClosed is returned by Wait after Close.
	ErrClosed = errors.New("query: orchestrator closed")
)

// FetchFunc loads the payload for a filter.
type FetchFunc func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error)

// Recorder receives fetch lifecycle events, typically for metrics.
type Recorder interface {
	Retry()
	Stale()
	Outcome(outcome string)
}

// Snapshot is a consistent view of the orchestrator.
type Snapshot struct {
	Key   filters.Options
	State State
	// Data is the last successful payload, possibly for an older filter (see DataKey). It is
	// kept across failures so a failed refresh never blanks the dashboard.
	Data         *insightsapi.Payload
	DataKey      filters.Options
	Err          error
	Message      string
	FailureCount int
	UpdatedAt    time.Time
}

// Current returns the payload for Key when the last cycle succeeded.
func (s Snapshot) Current() *insightsapi.Payload {
	if s.State != StateSuccess || s.DataKey != s.Key {
		return nil
	}
	return s.Data
}

// Orchestrator runs one logical request per applied filter. Responses for a filter that is no
// longer current are discarded; in-flight requests are not cancelled.
type Orchestrator struct {
	fetch     FetchFunc
	policy    RetryPolicy
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
	logger    *slog.Logger
	format    func(error) string
	onSuccess func(filters.Options, *insightsapi.Payload)
	onError   func(filters.Options, error, string)
	onAuth    func(filters.Options)
	recorder  Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// endCycle cancels the backoff of the current cycle once it is superseded.
	endCycle context.CancelFunc

	mu      sync.Mutex
	enabled bool
	hasKey  bool
	closed  bool
	gen     uint64
	snap    Snapshot
	changed chan struct{}
	// settling counts completions whose callbacks are still running.
	settling int
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithClock replaces the clock used for UpdatedAt.
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFormatter replaces insightsapi.FormatError for user-facing messages.
func WithFormatter(fn func(error) string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.format = fn
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithEnabled sets the initial enabled flag.
func WithEnabled(enabled bool) Option {
	return func(o *Orchestrator) { o.enabled = enabled }
}

// OnSuccess registers the terminal success callback.
func OnSuccess(fn func(key filters.Options, payload *insightsapi.Payload)) Option {
	return func(o *Orchestrator) { o.onSuccess = fn }
}

// OnError registers the terminal failure callback; message is already formatted for users.
func OnError(fn func(key filters.Options, err error, message string)) Option {
	return func(o *Orchestrator) { o.onError = fn }
}

// OnAuthExpired registers the handler for insightsapi.KindAuthExpired failures.
func OnAuthExpired(fn func(key filters.Options)) Option {
	return func(o *Orchestrator) { o.onAuth = fn }
}

// New builds an enabled Orchestrator in the Idle state.
func New(fetch FetchFunc, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		fetch:   fetch,
		policy:  DefaultRetryPolicy(),
		sleep:   sleepContext,
		now:     time.Now,
		logger:  slog.Default(),
		format:  insightsapi.FormatError,
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.snap.UpdatedAt = o.now()
	return o
}

// SetFilter makes key the applied filter. A fetch starts only when key differs from the
// current one.
func (o *Orchestrator) SetFilter(key filters.Options) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || (o.hasKey && o.snap.Key == key) {
		return
	}
	o.hasKey = true
	o.snap.Key = key
	if !o.enabled {
		o.snap.State = StateIdle
		o.snap.Err = nil
		o.snap.Message = ""
		o.snap.FailureCount = 0
		o.touchLocked()
		return
	}
	o.startLocked(false)
}

// SetEnabled toggles fetching. Enabling starts the fetch for a filter that arrived while
// disabled.
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.enabled == enabled {
		return
	}
	o.enabled = enabled
	if enabled && o.hasKey && o.snap.State == StateIdle {
		o.startLocked(false)
	}
}

// Refetch re-issues the request for the current filter with a fresh retry budget.
func (o *Orchestrator) Refetch() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || !o.hasKey || !o.enabled {
		return
	}
	o.startLocked(true)
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Wait blocks until the cycle for key is no longer loading. It returns ErrSuperseded when a
// different filter became current.
func (o *Orchestrator) Wait(ctx context.Context, key filters.Options) (Snapshot, error) {
	for {
		o.mu.Lock()
		snap, ch, hasKey, closed, settling := o.snap, o.changed, o.hasKey, o.closed, o.settling
		o.mu.Unlock()

		switch {
		case !hasKey || snap.Key != key:
			return snap, ErrSuperseded
		case snap.State != StateLoading && settling == 0:
			return snap, nil
		case closed:
			return snap, ErrClosed
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ch:
		}
	}
}

// Close stops retries and waits for running fetches to return.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancel()
	o.notifyLocked()
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) startLocked(forced bool) {
	o.gen++
	o.snap.State = StateLoading
	o.snap.Err = nil
	o.snap.Message = ""
	o.snap.FailureCount = 0
	o.touchLocked()

	if o.endCycle != nil {
		o.endCycle()
	}
	cycle, endCycle := context.WithCancel(o.ctx)
	o.endCycle = endCycle

	ctx := o.ctx
	if forced {
		ctx = withForced(ctx)
	}
	o.wg.Add(1)
	go o.run(ctx, cycle, o.gen, o.snap.Key)
}

// run fetches on ctx, which only Close cancels, and backs off on cycle, which also ends when
// a newer cycle starts.
func (o *Orchestrator) run(ctx, cycle context.Context, gen uint64, key filters.Options) {
	defer o.wg.Done()
	logger := o.logger.With(slog.String("filter", key.Summary()))
	failures := 0
	for {
		payload, err := o.fetch(ctx, key)
		if err == nil {
			o.complete(gen, key, payload, nil, failures)
			return
		}
		if o.ctx.Err() != nil {
			return
		}
		if !o.policy.ShouldRetry(failures, err) || !o.isCurrent(gen) {
			o.complete(gen, key, nil, err, failures+1)
			return
		}
		delay := o.policy.Delay(failures)
		failures++
		o.noteFailure(gen, failures)
		if o.recorder != nil {
			o.recorder.Retry()
		}
		logger.Warn("insights fetch failed, retrying", slog.Int("failures", failures), slog.Duration("delay", delay), slog.Any("error", err))
		if err := o.sleep(cycle, delay); err != nil {
			if o.ctx.Err() == nil {
				o.dropStale(logger)
			}
			return
		}
		if !o.isCurrent(gen) {
			o.dropStale(logger)
			return
		}
	}
}

func (o *Orchestrator) complete(gen uint64, key filters.Options, payload *insightsapi.Payload, err error, failures int) {
	o.mu.Lock()
	if gen != o.gen || o.closed {
		o.mu.Unlock()
		o.dropStale(o.logger.With(slog.String("filter", key.Summary())))
		return
	}
	var message string
	if err == nil {
		o.snap.State = StateSuccess
		o.snap.Data = payload
		o.snap.DataKey = key
	} else {
		message = o.format(err)
		o.snap.State = StateError
		o.snap.Err = err
		o.snap.Message = message
		o.snap.FailureCount = failures
	}
	o.snap.UpdatedAt = o.now()
	o.settling++
	onSuccess, onError, onAuth := o.onSuccess, o.onError, o.onAuth
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.settling--
		o.notifyLocked()
		o.mu.Unlock()
	}()

	if o.recorder != nil {
		if err == nil {
			o.recorder.Outcome(StateSuccess.String())
		} else {
			o.recorder.Outcome(insightsapi.KindOf(err).String())
		}
	}
	if err == nil {
		if onSuccess != nil {
			onSuccess(key, payload)
		}
		return
	}
	if onError != nil {
		onError(key, err, message)
	}
	if onAuth != nil && insightsapi.IsAuthExpired(err) {
		onAuth(key)
	}
}

func (o *Orchestrator) noteFailure(gen uint64, failures int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen == o.gen {
		o.snap.FailureCount = failures
	}
}

func (o *Orchestrator) isCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen == o.gen && !o.closed
}

func (o *Orchestrator) dropStale(logger *slog.Logger) {
	if o.recorder != nil {
		o.recorder.Stale()
	}
	logger.Debug("discarding stale insights response")
}

func (o *Orchestrator) touchLocked() {
	o.snap.UpdatedAt = o.now()
	o.notifyLocked()
}

func (o *Orchestrator) notifyLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

type forcedKey struct{}

func withForced(ctx context.Context) context.Context {
	return context.WithValue(ctx, forcedKey{}, true)
}

// Forced reports whether the fetch was started by Refetch. Caches use it to skip their read
// path so a manual retry always reaches the API.
func Forced(ctx context.Context) bool {
	forced, _ := ctx.Value(forcedKey{}).(bool)
	return forced
}
