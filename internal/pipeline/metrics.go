package pipeline

import (
	"context"
	"time"

	"github.com/haasonsaas/tierroute/internal/observability"
)

// Metrics records request counts, latency and token usage. Failed calls
// are labelled with the classified model since no response exists.
func Metrics(m *observability.Metrics) Middleware {
	return func(ctx context.Context, req *RequestContext, next Handler) (*ResponseContext, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		if err != nil {
			m.RecordRequest(req.Classification.Tier, req.Classification.ModelID, "error", time.Since(start))
			return nil, err
		}

		m.RecordRequest(resp.Tier, resp.ModelID, "success", time.Since(start))
		if !resp.CacheHit() {
			m.RecordTokens(resp.ModelID, resp.InputTokens, resp.OutputTokens)
		}
		return resp, nil
	}
}
