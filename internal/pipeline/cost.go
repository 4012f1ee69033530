package pipeline

import (
	"context"

	"github.com/haasonsaas/tierroute/internal/usage"
)

// UsageRecorder receives one record per completed call.
type UsageRecorder interface {
	RecordUsage(r usage.Record)
}

// CostRecorder reports token usage to recorder after next succeeds. The
// task type comes from the taskType metadata key and defaults to "unknown".
// Nothing is recorded when next fails.
func CostRecorder(recorder UsageRecorder) Middleware {
	return func(ctx context.Context, req *RequestContext, next Handler) (*ResponseContext, error) {
		resp, err := next(ctx, req)
		if err != nil {
			return nil, err
		}
		if recorder != nil && resp != nil {
			recorder.RecordUsage(usage.Record{
				TaskType:     req.TaskType(),
				ModelID:      resp.ModelID,
				Tier:         resp.Tier,
				InputTokens:  resp.InputTokens,
				OutputTokens: resp.OutputTokens,
			})
		}
		return resp, nil
	}
}
