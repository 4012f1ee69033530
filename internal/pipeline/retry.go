package pipeline

import (
	"context"
	"time"

	"github.com/haasonsaas/tierroute/internal/backoff"
)

// RetryOptions configures the Retry middleware.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the wait before the first retry; it doubles on each retry.
	Backoff time.Duration
	// Retryable filters errors worth retrying. Nil retries every error.
	Retryable func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep overrides the wait, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryOptions returns two retries starting at 100ms.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 2,
		Backoff:    100 * time.Millisecond,
	}
}

// Retry calls next up to MaxRetries+1 times, waiting Backoff*2^attempt
// between attempts. The context is checked before every attempt and every
// wait. Once retries are exhausted the last error is returned unchanged.
func Retry(opts RetryOptions) Middleware {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	retry := backoff.RetryOptions{
		MaxRetries:  opts.MaxRetries,
		Policy:      backoff.Policy{Base: opts.Backoff, Factor: 2},
		OnRetry:     opts.OnRetry,
		Sleep:       opts.Sleep,
		ShouldRetry: opts.Retryable,
	}

	return func(ctx context.Context, req *RequestContext, next Handler) (*ResponseContext, error) {
		attempts := 0
		resp, err := backoff.Retry(ctx, retry, func(int) (*ResponseContext, error) {
			attempts++
			return next(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		if resp != nil && attempts > 1 {
			resp.SetMeta(MetaAttempts, attempts)
		}
		return resp, nil
	}
}
