// Package retry provides the single backoff policy shared by the ledger
// client, the batch translator and the document save path. A policy is
// parameterized by attempt count, base delay, growth rule and a predicate
// deciding which errors are worth retrying.
package retry

import (
	"context"
	"time"
)

// Growth computes the wait before the next attempt, given the base delay and
// the number of the attempt that just failed (1-based).
type Growth func(base time.Duration, attempt int) time.Duration

// Linear grows the wait linearly with the attempt number: base, 2*base, 3*base...
func Linear(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// Fixed waits the same base delay between every attempt.
func Fixed(base time.Duration, _ int) time.Duration {
	return base
}

// Policy describes a bounded retry loop.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// BaseDelay is fed into Grow to compute each wait.
	BaseDelay time.Duration
	// Grow defaults to Linear when nil.
	Grow Growth
	// Retryable decides whether an error is transient. A nil predicate
	// retries every error.
	Retryable func(error) bool
	// Sleep is swappable for tests. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// OnRetry, when set, is called with the attempt that failed and the
	// wait chosen before the next one.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do runs fn until it succeeds, a non-retryable error occurs, the context is
// cancelled, or MaxAttempts is exhausted. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	grow := p.Grow
	if grow == nil {
		grow = Linear
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt < p.MaxAttempts {
			wait := grow(p.BaseDelay, attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, wait, lastErr)
			}
			sleep(wait)
		}
	}
	return lastErr
}
