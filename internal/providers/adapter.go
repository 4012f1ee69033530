// Package providers implements the LLM provider adapters invoked by the request pipeline.
//
// Each adapter exposes the same two operations: a blocking Chat call and a
// streaming call that delivers text, usage, and completion chunks over a
// channel. Adapters are safe for concurrent use.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/tierroute/internal/models"
)

// ErrUnsupportedProvider is returned by New for unknown provider names.
var ErrUnsupportedProvider = errors.New("providers: unsupported provider")

const defaultMaxTokens = 1024

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral chat request.
type Request struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Response is a provider-neutral chat response.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// ChunkType identifies what a streaming chunk carries.
type ChunkType string

const (
	ChunkText  ChunkType = "text"
	ChunkUsage ChunkType = "usage"
	ChunkDone  ChunkType = "done"
)

// Chunk is one element of a streaming response. A chunk with a non-nil Err
// is always the last one sent.
type Chunk struct {
	Type         ChunkType
	Text         string
	InputTokens  int64
	OutputTokens int64
	Err          error
}

// Adapter is implemented by every provider variant.
type Adapter interface {
	// Name returns the provider this adapter talks to.
	Name() models.Provider

	// Chat sends a request and waits for the complete response.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a request and returns a channel of chunks. The channel is
	// closed after the done chunk or an error chunk.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// Config configures an adapter.
type Config struct {
	// Provider selects the adapter variant: anthropic, openai, google or custom.
	Provider string `yaml:"name"`

	// APIKey authenticates with the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint. Required for custom.
	BaseURL string `yaml:"base_url"`

	// DefaultModel is used when a request does not name a model.
	DefaultModel string `yaml:"default_model"`

	// MaxTokens is the default output limit (default 1024).
	MaxTokens int `yaml:"max_tokens"`
}

// New constructs the adapter named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Adapter, error) {
	switch models.Provider(strings.ToLower(strings.TrimSpace(cfg.Provider))) {
	case models.ProviderAnthropic:
		return NewAnthropic(cfg)
	case models.ProviderOpenAI:
		return NewOpenAI(cfg)
	case models.ProviderGoogle:
		return NewGoogle(ctx, cfg)
	case models.ProviderCustom:
		return NewCustom(cfg)
	default:
		return nil, fmt.Errorf("%w: %q (expected anthropic, openai, google or custom)", ErrUnsupportedProvider, cfg.Provider)
	}
}

func resolveModel(req *Request, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}

func resolveMaxTokens(req *Request, fallback int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if fallback > 0 {
		return fallback
	}
	return defaultMaxTokens
}

func validateRequest(req *Request) error {
	if req == nil {
		return errors.New("providers: request is nil")
	}
	if len(req.Messages) == 0 {
		return errors.New("providers: request has no messages")
	}
	return nil
}

// send delivers a chunk unless ctx is done.
func send(ctx context.Context, ch chan<- Chunk, chunk Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
