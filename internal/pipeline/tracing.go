package pipeline

import (
	"context"

	"github.com/haasonsaas/tierroute/internal/observability"
)

// Tracing wraps the remainder of the chain in one client span carrying the
// tier, model and token counts.
func Tracing(tracer *observability.Tracer) Middleware {
	return func(ctx context.Context, req *RequestContext, next Handler) (*ResponseContext, error) {
		ctx, span := tracer.TraceProviderCall(ctx, req.Classification.Tier, req.Classification.ModelID)
		defer span.End()

		if req.RequestID != "" {
			tracer.SetAttributes(span, "request.id", req.RequestID)
		}

		resp, err := next(ctx, req)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}

		tracer.SetAttributes(span,
			"llm.response_model", resp.ModelID,
			"llm.input_tokens", resp.InputTokens,
			"llm.output_tokens", resp.OutputTokens,
			"llm.cache_hit", resp.CacheHit(),
		)
		return resp, nil
	}
}
