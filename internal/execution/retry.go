package execution

import (
	"context"
	"time"
)

// RetryPolicy is the one retry/backoff schedule shared by every outbound
// broker call. Attempt delays grow as base*2^attempt up to the cap.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func NewRetryPolicy(maxAttempts int, base, cap time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap <= 0 {
		cap = 8 * time.Second
	}
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: cap}
}

// Delay returns the backoff before the given zero-based retry attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// Wait sleeps the backoff for attempt, or returns early when ctx is
// cancelled. A cancelled wait means: no further retries.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
