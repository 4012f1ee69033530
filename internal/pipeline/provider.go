package pipeline

import (
	"context"
	"time"

	"github.com/haasonsaas/tierroute/internal/providers"
)

// ProviderHandler returns a final handler that sends the request to
// adapter using the classified model.
func ProviderHandler(adapter providers.Adapter) Handler {
	return func(ctx context.Context, req *RequestContext) (*ResponseContext, error) {
		start := time.Now()
		resp, err := adapter.Chat(ctx, &providers.Request{
			Model:       req.Classification.ModelID,
			System:      req.SystemPrompt,
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			return nil, err
		}

		model := resp.Model
		if model == "" {
			model = req.Classification.ModelID
		}
		return &ResponseContext{
			Content:      resp.Content,
			ModelID:      model,
			Tier:         req.Classification.Tier,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			StopReason:   resp.StopReason,
			Latency:      time.Since(start),
			Metadata:     map[string]any{"provider": string(adapter.Name())},
		}, nil
	}
}
