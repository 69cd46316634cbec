package insights

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/training-insights/dashboard/internal/analytics"
	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
)

type stubSource struct {
	calls int32
	text  string
	err   error
}

func (s *stubSource) Narrative(ctx context.Context, opts filters.Options) (*insightsapi.Narrative, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return &insightsapi.Narrative{
		Metadata: insightsapi.NarrativeMetadata{GeneratedAt: "2024-06-01T10:00:00Z"},
		Summary:  insightsapi.NarrativeSummary{TotalSessions: 12, PassRate: 75},
		Text:     s.text,
	}, nil
}

func newCache(t *testing.T) *analytics.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return analytics.NewCache(client, time.Minute)
}

func TestServiceLoadCachesNarrative(t *testing.T) {
	cache := newCache(t)
	src := &stubSource{text: "Sales improved."}
	svc := NewService(src, cache, nil)
	ctx := context.Background()
	opts := filters.Options{Department: "Sales"}

	first, err := svc.Load(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, "Sales improved.", first.Text)

	_, err = svc.Load(ctx, opts)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&src.calls))

	require.NoError(t, cache.Bump(ctx))
	_, err = svc.Load(ctx, opts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&src.calls))
}

func TestServiceLoadDoesNotCacheErrors(t *testing.T) {
	src := &stubSource{err: errors.New("boom")}
	svc := NewService(src, newCache(t), nil)

	_, err := svc.Load(context.Background(), filters.Default())
	require.Error(t, err)
	_, err = svc.Load(context.Background(), filters.Default())
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&src.calls))
}

func TestServiceWithoutCache(t *testing.T) {
	src := &stubSource{text: "ok"}
	svc := NewService(src, nil, nil)
	n, err := svc.Load(context.Background(), filters.Default())
	require.NoError(t, err)
	assert.Equal(t, "ok", n.Text)
}

type ctxToken struct{}

func tokenFromContext(ctx context.Context) (string, error) {
	token, _ := ctx.Value(ctxToken{}).(string)
	return token, nil
}

func TestServiceLoadPartitionsByCredential(t *testing.T) {
	src := &stubSource{text: "Sales improved."}
	svc := NewService(src, newCache(t), nil, WithCredentials(insightsapi.TokenFunc(tokenFromContext)))
	opts := filters.Options{Department: "Sales"}
	withToken := context.WithValue(context.Background(), ctxToken{}, "good")

	_, err := svc.Load(withToken, opts)
	require.NoError(t, err)
	_, err = svc.Load(context.Background(), opts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&src.calls))

	_, err = svc.Load(withToken, opts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&src.calls))
}

type gatedSource struct {
	stubSource
	gate chan struct{}
}

func (s *gatedSource) Narrative(ctx context.Context, opts filters.Options) (*insightsapi.Narrative, error) {
	<-s.gate
	return s.stubSource.Narrative(ctx, opts)
}

func TestServiceLoadOutlivesCancelledCaller(t *testing.T) {
	src := &gatedSource{stubSource: stubSource{text: "ok"}, gate: make(chan struct{})}
	svc := NewService(src, newCache(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Load(ctx, filters.Default())
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)
	second := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background(), filters.Default())
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	close(src.gate)
	require.NoError(t, <-second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&src.calls))
}

func TestNewViewModel(t *testing.T) {
	opts := filters.Options{Department: "Support"}
	vm := NewViewModel(opts, &insightsapi.Narrative{
		Metadata: insightsapi.NarrativeMetadata{GeneratedAt: "2024-06-01T10:00:00Z"},
		Summary:  insightsapi.NarrativeSummary{TotalSessions: 30, PassRate: 80, OverallSkillAverage: 77.5},
		Text:     "First  paragraph\nwraps.\n\n\n\nSecond one.",
	})
	assert.Contains(t, string(vm.Body), "<p>First  paragraph<br>")
	assert.Contains(t, string(vm.Body), "<p>Second one.</p>")
	assert.Equal(t, "/dashboard?department=Support", vm.DashboardURL)
	assert.Equal(t, "01 Jun 2024 10:00 UTC", vm.GeneratedAt)
	assert.Equal(t, 30, vm.TotalSessions)
	require.Len(t, vm.Facts, 3)
	assert.Equal(t, 80.0, vm.Facts[0].Value)

	empty := NewViewModel(filters.Default(), nil)
	assert.Empty(t, empty.Body)
	assert.Equal(t, "/dashboard", empty.DashboardURL)
}

func TestRenderTextMarkdown(t *testing.T) {
	body := string(RenderText("**Sales** improved.\n\n- Communication up\n- Product knowledge flat\n\n<script>alert(1)</script>"))
	assert.Contains(t, body, "<strong>Sales</strong> improved.")
	assert.Contains(t, body, "<li>Communication up</li>")
	assert.NotContains(t, body, "<script>")
	assert.Empty(t, RenderText("  \r\n "))
}
