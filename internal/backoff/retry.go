package backoff

import (
	"context"
	"time"
)

// RetryOptions configures Retry.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Policy computes the wait between attempts.
	Policy Policy
	// OnRetry is called before each wait with the failed attempt (0-indexed).
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep overrides the wait, mainly for tests. Defaults to SleepWithContext.
	Sleep func(ctx context.Context, d time.Duration) error
	// ShouldRetry reports whether an error is worth another attempt.
	// Nil retries every error.
	ShouldRetry func(err error) bool
}

// Retry calls fn up to MaxRetries+1 times. The context is checked before
// every attempt and before every wait; once it is done no further attempts
// are made and ctx.Err() is returned. When retries are exhausted the last
// error from fn is returned unchanged.
func Retry[T any](ctx context.Context, opts RetryOptions, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		if attempt >= opts.MaxRetries {
			return zero, err
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return zero, err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		delay := opts.Policy.Delay(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, delay)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}
}

// SleepWithContext sleeps for the specified duration, respecting context cancellation.
// Returns nil if the sleep completed, or ctx.Err() if the context was cancelled.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
