package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/tierroute/internal/models"
)

// GoogleAdapter talks to the Gemini API.
type GoogleAdapter struct {
	client       *genai.Client
	defaultModel string
	maxTokens    int
}

// NewGoogle creates a Gemini adapter.
func NewGoogle(ctx context.Context, cfg Config) (*GoogleAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, err
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GoogleAdapter{
		client:       client,
		defaultModel: model,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Name returns the provider name.
func (a *GoogleAdapter) Name() models.Provider {
	return models.ProviderGoogle
}

// Chat sends a non-streaming request.
func (a *GoogleAdapter) Chat(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	model := resolveModel(req, a.defaultModel)
	contents, config := a.buildRequest(req)

	resp, err := a.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, a.wrapError(err, model)
	}

	out := &Response{
		Content: resp.Text(),
		Model:   model,
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// Stream sends a streaming request.
func (a *GoogleAdapter) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	model := resolveModel(req, a.defaultModel)
	contents, config := a.buildRequest(req)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		var inputTokens, outputTokens int64
		for resp, err := range a.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				send(ctx, chunks, Chunk{Err: a.wrapError(err, model)})
				return
			}
			if resp.UsageMetadata != nil {
				inputTokens = int64(resp.UsageMetadata.PromptTokenCount)
				outputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
			}
			if text := resp.Text(); text != "" {
				if !send(ctx, chunks, Chunk{Type: ChunkText, Text: text}) {
					return
				}
			}
		}
		if !send(ctx, chunks, Chunk{Type: ChunkUsage, InputTokens: inputTokens, OutputTokens: outputTokens}) {
			return
		}
		send(ctx, chunks, Chunk{Type: ChunkDone})
	}()
	return chunks, nil
}

func (a *GoogleAdapter) buildRequest(req *Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(resolveMaxTokens(req, a.maxTokens)),
	}
	system := req.System

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if system == "" {
				system = msg.Content
			}
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}
	return contents, config
}

// genai errors carry no typed status, so it is recovered from the message.
func (a *GoogleAdapter) wrapError(err error, model string) error {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	wrapped := NewProviderError(string(models.ProviderGoogle), model, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		wrapped = wrapped.WithStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		wrapped = wrapped.WithStatus(http.StatusForbidden)
	case strings.Contains(msg, "404"):
		wrapped = wrapped.WithStatus(http.StatusNotFound)
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted"):
		wrapped = wrapped.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "503"):
		wrapped = wrapped.WithStatus(http.StatusServiceUnavailable)
	case strings.Contains(msg, "500"):
		wrapped = wrapped.WithStatus(http.StatusInternalServerError)
	}
	return wrapped
}
