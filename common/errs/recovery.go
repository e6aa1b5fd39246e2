package errs

import (
	"context"
	"time"
)

// Recovery decides whether and when a failed operation is retried.
type Recovery struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// OnRetry is an optional hook for logging and metrics.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// NewRecovery creates a recovery handler with exponential backoff defaults.
func NewRecovery() *Recovery {
	return &Recovery{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// ShouldRetry determines if an error should be retried after the given attempt
// (0-based).
func (r *Recovery) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= r.MaxRetries {
		return false
	}
	return IsRetryable(err)
}

// RetryDelay calculates the delay before the next retry.
func (r *Recovery) RetryDelay(attempt int) time.Duration {
	delay := r.BaseDelay << uint(attempt)
	if delay <= 0 || delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// Do runs operation until it succeeds, fails with a non-retryable error, the
// retry budget is spent or ctx is done.
func (r *Recovery) Do(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return Wrap(ErrorTypeCancelled, "operation aborted", err)
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.ShouldRetry(lastErr, attempt) {
			return lastErr
		}

		wait := r.RetryDelay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, wait, lastErr)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}
