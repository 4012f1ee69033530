package pipeline

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError is returned when next does not finish within the limit.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pipeline: request timed out after %dms", e.Limit.Milliseconds())
}

// Timeout races next against a timer (default 30s). Inner layers receive a
// context that is cancelled when the limit passes; a call that ignores its
// context keeps running in the background but its result is discarded.
// Errors from next are returned unchanged.
func Timeout(limit time.Duration) Middleware {
	if limit <= 0 {
		limit = 30 * time.Second
	}

	type result struct {
		resp *ResponseContext
		err  error
	}

	return func(ctx context.Context, req *RequestContext, next Handler) (*ResponseContext, error) {
		callCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan result, 1)
		go func() {
			resp, err := next(callCtx, req)
			done <- result{resp: resp, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil && ctx.Err() == nil && callCtx.Err() == context.DeadlineExceeded {
				return nil, &TimeoutError{Limit: limit}
			}
			return r.resp, r.err
		case <-callCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, &TimeoutError{Limit: limit}
		}
	}
}
