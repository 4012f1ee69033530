package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/haasonsaas/tierroute/internal/cache"
	"github.com/haasonsaas/tierroute/internal/models"
	"github.com/haasonsaas/tierroute/internal/providers"
)

// ErrClassification wraps every failure of the LLM classification call.
var ErrClassification = errors.New("routing: classification failed")

const (
	defaultClassifierTimeout   = 2 * time.Second
	defaultClassifierCacheSize = 1000
	classifierMaxTokens        = 64

	fallbackReasonPrefix = "llm-classifier-error: "
)

const classifierSystemPrompt = `You route requests to model tiers.
Reply with only a JSON object: {"tier": "fast" | "quality" | "expert", "confidence": <number between 0 and 1>}.
fast: greetings, lookups, short factual or formatting tasks.
quality: general writing, coding, explanation.
expert: multi-step reasoning, strategy, architecture, high-stakes analysis.`

// ChatClient is the provider call the classifier needs.
type ChatClient interface {
	Chat(ctx context.Context, req *providers.Request) (*providers.Response, error)
}

// LLMClassifierConfig configures an LLMClassifier.
type LLMClassifierConfig struct {
	// Client performs the classification call. Required.
	Client ChatClient
	// Model is the cheap model asked to classify.
	Model string
	// Timeout bounds each classification call (default 2s).
	Timeout time.Duration
	// CacheSize bounds cached results (default 1000).
	CacheSize int
	// Registry resolves the classified tier to a model. Optional.
	Registry *models.Registry
	// Provider is preferred when resolving models.
	Provider models.Provider
	// Logger receives fallback warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// LLMClassifier classifies messages with a single small-model call.
// Results are cached by a non-cryptographic hash of the message, so two
// messages with colliding hashes share a result.
type LLMClassifier struct {
	client   ChatClient
	model    string
	timeout  time.Duration
	registry *models.Registry
	provider models.Provider
	logger   *slog.Logger
	cache    *cache.LRU[uint64, Result]
}

// NewLLMClassifier creates a classifier.
func NewLLMClassifier(cfg LLMClassifierConfig) (*LLMClassifier, error) {
	if cfg.Client == nil {
		return nil, errors.New("routing: classifier client is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultClassifierTimeout
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultClassifierCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	results, err := cache.NewLRU[uint64, Result](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("routing: classifier cache: %w", err)
	}
	return &LLMClassifier{
		client:   cfg.Client,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		registry: cfg.Registry,
		provider: cfg.Provider,
		logger:   cfg.Logger.With("component", "llm-classifier"),
		cache:    results,
	}, nil
}

// Classify never fails: any error becomes a quality-tier fallback result
// whose single reason starts with "llm-classifier-error: ".
func (c *LLMClassifier) Classify(ctx context.Context, message string) Result {
	key := xxhash.Sum64String(message)
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	result, err := c.classify(ctx, message)
	if err != nil {
		c.logger.Warn("classification failed, using fallback", "error", err)
		fallback := Result{
			Tier:           models.TierQuality,
			Score:          0.5,
			Reasons:        []string{fallbackReasonPrefix + err.Error()},
			ClassifierUsed: true,
		}
		fallback.ModelID = c.resolveModel(models.TierQuality)
		return fallback
	}

	c.cache.Set(key, result)
	return result
}

func (c *LLMClassifier) classify(ctx context.Context, message string) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := 0.0
	resp, err := c.client.Chat(callCtx, &providers.Request{
		Model:       c.model,
		System:      classifierSystemPrompt,
		Messages:    []providers.Message{{Role: "user", Content: message}},
		MaxTokens:   classifierMaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrClassification, ctxErr)
		}
		return Result{}, fmt.Errorf("%w: %w", ErrClassification, err)
	}

	tier, confidence, err := parseClassifierReply(resp.Content)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Tier:           tier,
		ModelID:        c.resolveModel(tier),
		Score:          confidence,
		Reasons:        []string{fmt.Sprintf("llm classifier: %s (confidence %.2f)", tier, confidence)},
		ClassifierUsed: true,
	}, nil
}

type classifierReply struct {
	Tier       string   `json:"tier"`
	Confidence *float64 `json:"confidence"`
}

func parseClassifierReply(content string) (models.Tier, float64, error) {
	var reply classifierReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &reply); err != nil {
		return "", 0, fmt.Errorf("%w: invalid JSON reply: %w", ErrClassification, err)
	}
	tier, err := models.ParseTier(reply.Tier)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrClassification, err)
	}
	if reply.Confidence == nil {
		return "", 0, fmt.Errorf("%w: missing confidence", ErrClassification)
	}
	if *reply.Confidence < 0 || *reply.Confidence > 1 {
		return "", 0, fmt.Errorf("%w: confidence %v out of range", ErrClassification, *reply.Confidence)
	}
	return tier, *reply.Confidence, nil
}

func (c *LLMClassifier) resolveModel(tier models.Tier) string {
	if c.registry == nil {
		return ""
	}
	spec, err := c.registry.GetDefaultModel(tier, c.provider)
	if err != nil {
		return ""
	}
	return spec.ID
}

// CacheSize returns the number of cached results.
func (c *LLMClassifier) CacheSize() int {
	return c.cache.Len()
}

// CacheCapacity returns the maximum number of cached results.
func (c *LLMClassifier) CacheCapacity() int {
	return c.cache.Capacity()
}

// ClearCache drops all cached results.
func (c *LLMClassifier) ClearCache() {
	c.cache.Clear()
}
