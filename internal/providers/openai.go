package providers

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tierroute/internal/models"
)

// OpenAIAdapter talks to the OpenAI chat completions API, or any endpoint
// that speaks the same protocol.
type OpenAIAdapter struct {
	client       *openai.Client
	name         models.Provider
	defaultModel string
	maxTokens    int
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	return newOpenAICompatible(models.ProviderOpenAI, cfg), nil
}

// NewCustom creates an adapter for a self-hosted OpenAI-compatible endpoint
// such as vLLM or Ollama. BaseURL and DefaultModel are required; the API key
// may be empty.
func NewCustom(cfg Config) (*OpenAIAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("custom: base_url is required")
	}
	if cfg.DefaultModel == "" {
		return nil, errors.New("custom: default_model is required")
	}
	return newOpenAICompatible(models.ProviderCustom, cfg), nil
}

func newOpenAICompatible(name models.Provider, cfg Config) *OpenAIAdapter {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(config),
		name:         name,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() models.Provider {
	return a.name
}

// Chat sends a non-streaming request.
func (a *OpenAIAdapter) Chat(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	chatReq := a.buildRequest(req)

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, a.wrapError(err, chatReq.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(string(a.name), chatReq.Model, errors.New("response has no choices"))
	}

	model := resp.Model
	if model == "" {
		model = chatReq.Model
	}
	return &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        model,
		StopReason:   string(resp.Choices[0].FinishReason),
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}

// Stream sends a streaming request.
func (a *OpenAIAdapter) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	chatReq := a.buildRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, a.wrapError(err, chatReq.Model)
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var inputTokens, outputTokens int64
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(ctx, chunks, Chunk{Err: a.wrapError(err, chatReq.Model)})
				return
			}
			if response.Usage != nil {
				inputTokens = int64(response.Usage.PromptTokens)
				outputTokens = int64(response.Usage.CompletionTokens)
			}
			if len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				if !send(ctx, chunks, Chunk{Type: ChunkText, Text: response.Choices[0].Delta.Content}) {
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

func (a *OpenAIAdapter) buildRequest(req *Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		case "system":
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     resolveModel(req, a.defaultModel),
		Messages:  messages,
		MaxTokens: resolveMaxTokens(req, a.maxTokens),
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	return chatReq
}

func (a *OpenAIAdapter) wrapError(err error, model string) error {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return err
	}

	wrapped := NewProviderError(string(a.name), model, err)
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		wrapped = wrapped.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			wrapped.Message = apiErr.Message
		}
	case errors.As(err, &reqErr):
		wrapped = wrapped.WithStatus(reqErr.HTTPStatusCode)
	}
	return wrapped
}
