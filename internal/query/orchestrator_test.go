package query

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
)

type fakeRecorder struct {
	mu       sync.Mutex
	retries  int
	stale    int
	outcomes []string
}

func (r *fakeRecorder) Retry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *fakeRecorder) Stale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func (r *fakeRecorder) Outcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func waitFor(t *testing.T, o *Orchestrator, key filters.Options) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := o.Wait(ctx, key)
	require.NoError(t, err)
	return snap
}

func sales() filters.Options {
	return filters.Options{Department: "Sales"}
}

func TestSuccessStoresPayloadAndCallsBack(t *testing.T) {
	payload := &insightsapi.Payload{TotalSessions: 10}
	var gotKey filters.Options
	rec := &fakeRecorder{}
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		return payload, nil
	}, OnSuccess(func(key filters.Options, p *insightsapi.Payload) { gotKey = key }), WithRecorder(rec))
	defer o.Close()

	assert.Equal(t, StateIdle, o.Snapshot().State)
	o.SetFilter(sales())
	snap := waitFor(t, o, sales())

	assert.Equal(t, StateSuccess, snap.State)
	assert.Same(t, payload, snap.Current())
	assert.Equal(t, sales(), snap.DataKey)
	assert.Equal(t, sales(), gotKey)
	assert.Equal(t, []string{"success"}, rec.outcomes)
}

func TestServerErrorRetriesThreeTimesWithBackoff(t *testing.T) {
	var calls int32
	sleeps := &sleepLog{}
	rec := &fakeRecorder{}
	var gotMsg string
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &insightsapi.Error{Kind: insightsapi.KindServer, Status: 503, Message: "API Error: 503 Service Unavailable"}
	},
		WithSleep(sleeps.sleep),
		WithRecorder(rec),
		OnError(func(key filters.Options, err error, message string) { gotMsg = message }),
	)
	defer o.Close()

	o.SetFilter(sales())
	snap := waitFor(t, o, sales())

	assert.Equal(t, StateError, snap.State)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.recorded())
	assert.Equal(t, 4, snap.FailureCount)
	assert.Equal(t, "Service unavailable. Please try again later.", snap.Message)
	assert.Equal(t, snap.Message, gotMsg)
	assert.Equal(t, 3, rec.retries)
	assert.Equal(t, []string{"server_error"}, rec.outcomes)
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	sleeps := &sleepLog{}
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &insightsapi.Error{Kind: insightsapi.KindClient, Status: 400}
	}, WithSleep(sleeps.sleep))
	defer o.Close()

	o.SetFilter(sales())
	snap := waitFor(t, o, sales())
	assert.Equal(t, StateError, snap.State)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, sleeps.recorded())
	assert.Equal(t, "Invalid request. Please check your input and try again.", snap.Message)
}

func TestRecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, &insightsapi.Error{Kind: insightsapi.KindNetwork}
		}
		return &insightsapi.Payload{TotalSessions: 3}, nil
	}, WithSleep((&sleepLog{}).sleep))
	defer o.Close()

	o.SetFilter(sales())
	snap := waitFor(t, o, sales())
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, 3, snap.Data.TotalSessions)
	assert.Empty(t, snap.Message)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	first := filters.Options{Department: "Sales"}
	second := filters.Options{Department: "Support"}
	rec := &fakeRecorder{}
	var successes []filters.Options
	var mu sync.Mutex

	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		if key == first {
			<-gate
			return &insightsapi.Payload{TotalSessions: 1}, nil
		}
		return &insightsapi.Payload{TotalSessions: 2}, nil
	}, WithRecorder(rec), OnSuccess(func(key filters.Options, _ *insightsapi.Payload) {
		mu.Lock()
		defer mu.Unlock()
		successes = append(successes, key)
	}))

	o.SetFilter(first)
	o.SetFilter(second)
	snap := waitFor(t, o, second)
	assert.Equal(t, 2, snap.Data.TotalSessions)

	_, err := o.Wait(context.Background(), first)
	assert.ErrorIs(t, err, ErrSuperseded)

	close(gate)
	o.Close()

	snap = o.Snapshot()
	assert.Equal(t, second, snap.Key)
	assert.Equal(t, 2, snap.Data.TotalSessions)
	assert.Equal(t, []filters.Options{second}, successes)
	assert.Equal(t, 1, rec.stale)
}

func TestSupersededCycleAbandonsBackoff(t *testing.T) {
	first := sales()
	second := filters.Options{Department: "Support"}
	rec := &fakeRecorder{}
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		if key == first {
			return nil, &insightsapi.Error{Kind: insightsapi.KindServer, Status: 503}
		}
		return &insightsapi.Payload{TotalSessions: 2}, nil
	}, WithRecorder(rec), WithRetryPolicy(RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}))
	defer o.Close()

	o.SetFilter(first)
	require.Eventually(t, func() bool { return o.Snapshot().FailureCount == 1 }, 2*time.Second, 5*time.Millisecond)

	o.SetFilter(second)
	snap := waitFor(t, o, second)
	assert.Equal(t, 2, snap.Data.TotalSessions)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.stale == 1
	}, 2*time.Second, 5*time.Millisecond, "superseded cycle should stop sleeping")
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.retries)
}

func TestSameFilterIsNoop(t *testing.T) {
	var calls int32
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		atomic.AddInt32(&calls, 1)
		return &insightsapi.Payload{}, nil
	})
	defer o.Close()

	o.SetFilter(sales())
	waitFor(t, o, sales())
	o.SetFilter(sales())
	waitFor(t, o, sales())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDisabledStaysIdleUntilEnabled(t *testing.T) {
	var calls int32
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		atomic.AddInt32(&calls, 1)
		return &insightsapi.Payload{}, nil
	}, WithEnabled(false))
	defer o.Close()

	o.SetFilter(sales())
	snap := o.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))

	o.Refetch()
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))

	o.SetEnabled(true)
	snap = waitFor(t, o, sales())
	assert.Equal(t, StateSuccess, snap.State)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRefetchIsForcedAndResetsFailures(t *testing.T) {
	var calls int32
	var forced []bool
	var mu sync.Mutex
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		mu.Lock()
		forced = append(forced, Forced(ctx))
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &insightsapi.Error{Kind: insightsapi.KindClient, Status: 404}
		}
		return &insightsapi.Payload{TotalSessions: 5}, nil
	})
	defer o.Close()

	o.SetFilter(sales())
	snap := waitFor(t, o, sales())
	require.Equal(t, StateError, snap.State)
	assert.Equal(t, 1, snap.FailureCount)

	o.Refetch()
	snap = waitFor(t, o, sales())
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, []bool{false, true}, forced)
}

func TestErrorKeepsPreviousData(t *testing.T) {
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		if key.Department == "Broken" {
			return nil, &insightsapi.Error{Kind: insightsapi.KindClient, Status: 422}
		}
		return &insightsapi.Payload{TotalSessions: 9}, nil
	})
	defer o.Close()

	o.SetFilter(sales())
	waitFor(t, o, sales())
	broken := filters.Options{Department: "Broken"}
	o.SetFilter(broken)
	snap := waitFor(t, o, broken)

	assert.Equal(t, StateError, snap.State)
	assert.Nil(t, snap.Current())
	require.NotNil(t, snap.Data)
	assert.Equal(t, 9, snap.Data.TotalSessions)
	assert.Equal(t, sales(), snap.DataKey)
	assert.Equal(t, "Validation error. Please check your input and try again.", snap.Message)
}

func TestAuthExpiredCallback(t *testing.T) {
	var expired atomic.Bool
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		return nil, &insightsapi.Error{Kind: insightsapi.KindAuthExpired, Status: 401}
	}, OnAuthExpired(func(filters.Options) { expired.Store(true) }))
	defer o.Close()

	o.SetFilter(sales())
	snap := waitFor(t, o, sales())
	assert.Equal(t, StateError, snap.State)
	assert.True(t, expired.Load())
}

func TestWaitHonoursContextAndClose(t *testing.T) {
	gate := make(chan struct{})
	o := New(func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		<-gate
		return &insightsapi.Payload{}, nil
	})

	o.SetFilter(sales())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := o.Wait(ctx, sales())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateLoading, snap.State)

	close(gate)
	o.Close()
	_, err = o.Wait(context.Background(), filters.Options{Department: "Other"})
	assert.ErrorIs(t, err, ErrSuperseded)
}
