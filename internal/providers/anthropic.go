package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/tierroute/internal/models"
)

// AnthropicAdapter talks to the Anthropic Messages API.
type AnthropicAdapter struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicAdapter{
		client:       anthropic.NewClient(options...),
		defaultModel: model,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() models.Provider {
	return models.ProviderAnthropic
}

// Chat sends a non-streaming request.
func (a *AnthropicAdapter) Chat(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	params := a.buildParams(req)

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.wrapError(err, string(params.Model))
	}

	var text strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	return &Response{
		Content:      text.String(),
		Model:        string(message.Model),
		StopReason:   string(message.StopReason),
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}, nil
}

// Stream sends a streaming request.
func (a *AnthropicAdapter) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	params := a.buildParams(req)
	model := string(params.Model)
	stream := a.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var inputTokens, outputTokens int64
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				inputTokens = event.AsMessageStart().Message.Usage.InputTokens
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					if !send(ctx, chunks, Chunk{Type: ChunkText, Text: delta.Text}) {
						return
					}
				}
			case "message_delta":
				outputTokens = event.AsMessageDelta().Usage.OutputTokens
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, chunks, Chunk{Err: a.wrapError(err, model)})
			return
		}
		if !send(ctx, chunks, Chunk{Type: ChunkUsage, InputTokens: inputTokens, OutputTokens: outputTokens}) {
			return
		}
		send(ctx, chunks, Chunk{Type: ChunkDone})
	}()
	return chunks, nil
}

func (a *AnthropicAdapter) buildParams(req *Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(resolveModel(req, a.defaultModel)),
		MaxTokens: int64(resolveMaxTokens(req, a.maxTokens)),
	}
	system := req.System
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			// Anthropic takes the system prompt out of band.
			if system == "" {
				system = msg.Content
			}
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) wrapError(err error, model string) error {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	wrapped := NewProviderError(string(models.ProviderAnthropic), model, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.StatusCode)
		wrapped.RequestID = apiErr.RequestID
		var payload anthropicErrorPayload
		if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
			wrapped.Message = payload.Error.Message
		}
	}
	return wrapped
}
