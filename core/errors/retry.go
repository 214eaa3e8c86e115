package errors

import (
	"context"
	"time"
)

// =============================================================================
// Policy
// =============================================================================

// Policy bounds a retry loop. The zero value retries nothing; use
// DefaultPolicy for the standard synchronizer policy.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth of the delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor (default 2.0).
	Multiplier float64

	// JitterPercent spreads the delay by ±this fraction to avoid
	// synchronized retries (default 0.1).
	JitterPercent float64
}

// DefaultPolicy returns the bounded policy used around remote git operations.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// =============================================================================
// Retry
// =============================================================================

// Retry runs fn up to policy.MaxAttempts times, sleeping an exponentially
// growing, jittered delay between attempts. A nil error stops the loop.
// A non-retryable error (per isRetryable) is returned immediately. The
// context cancels the wait between attempts, returning the last error.
//
// isRetryable may be nil, in which case Retryable is used.
func Retry(ctx context.Context, policy Policy, isRetryable func(error) bool, fn func() error) error {
	if isRetryable == nil {
		isRetryable = Retryable
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := AddJitter(CalculateDelay(attempt, policy), policy.JitterPercent)
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

// sleep waits for the delay or until the context is cancelled.
func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
