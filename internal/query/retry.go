package query

import (
	"context"
	"time"

	"github.com/training-insights/dashboard/internal/insightsapi"
)

// RetryPolicy decides whether and when a failed fetch is attempted again.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy allows 3 retries at 1s, 2s, 4s, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// ShouldRetry reports whether another attempt follows failureCount earlier failures.
// Client errors (4xx) are never retried.
func (p RetryPolicy) ShouldRetry(failureCount int, err error) bool {
	if err == nil || insightsapi.IsPermanent(err) {
		return false
	}
	return failureCount < p.MaxRetries
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if attempt >= 62 {
		return maxDelay
	}
	d := p.BaseDelay * time.Duration(int64(1)<<attempt)
	if d <= 0 || d > maxDelay || d/time.Duration(int64(1)<<attempt) != p.BaseDelay {
		return maxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
