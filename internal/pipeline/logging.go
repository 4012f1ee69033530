package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Logging logs one line before calling next (tier and model) and one line
// after it returns (resolved model and elapsed milliseconds). The second
// line is skipped when next fails.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req *RequestContext, next Handler) (*ResponseContext, error) {
		logger.InfoContext(ctx, "llm request",
			"tier", req.Classification.Tier,
			"model", req.Classification.ModelID,
		)
		start := time.Now()

		resp, err := next(ctx, req)
		if err != nil {
			return nil, err
		}

		logger.InfoContext(ctx, "llm response",
			"model", resp.ModelID,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return resp, nil
	}
}
