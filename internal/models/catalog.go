// Package models provides the registry of LLM models and the cost tiers they serve.
package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tier identifies a cost/capability bucket a request is routed to.
type Tier string

const (
	TierFast    Tier = "fast"    // Cheapest, lowest latency
	TierQuality Tier = "quality" // Good balance
	TierExpert  Tier = "expert"  // Best quality, highest cost
)

// Tiers lists every valid tier in ascending cost order.
var Tiers = []Tier{TierFast, TierQuality, TierExpert}

var (
	// ErrInvalidTier is returned when a tier string is not one of the known tiers.
	ErrInvalidTier = errors.New("models: invalid tier")

	// ErrNoModelForTier is returned when no model at all is registered for a tier.
	ErrNoModelForTier = errors.New("models: no model registered for tier")
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFast, TierQuality, TierExpert:
		return true
	default:
		return false
	}
}

// String returns the tier name.
func (t Tier) String() string {
	return string(t)
}

// ParseTier normalizes a tier name. Matching is case-insensitive.
func ParseTier(value string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(value)))
	if !tier.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, value)
	}
	return tier, nil
}

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderCustom    Provider = "custom"
)

// ModelSpec describes a model and what it costs.
type ModelSpec struct {
	// ID is the model identifier used in API calls
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable name
	Name string `json:"name" yaml:"name"`

	// Provider is the LLM provider
	Provider Provider `json:"provider" yaml:"provider"`

	// Tier is the cost tier the model serves
	Tier Tier `json:"tier" yaml:"tier"`

	// ContextWindow is the maximum context size in tokens
	ContextWindow int `json:"context_window,omitempty" yaml:"context_window"`

	// MaxOutputTokens is the maximum output size
	MaxOutputTokens int `json:"max_output_tokens,omitempty" yaml:"max_output_tokens"`

	// InputPrice is the price per million input tokens (USD)
	InputPrice float64 `json:"input_price,omitempty" yaml:"input_price"`

	// OutputPrice is the price per million output tokens (USD)
	OutputPrice float64 `json:"output_price,omitempty" yaml:"output_price"`
}

// EstimateCost returns the USD cost of the given token counts.
func (m ModelSpec) EstimateCost(inputTokens, outputTokens int64) float64 {
	total := float64(inputTokens)*m.InputPrice + float64(outputTokens)*m.OutputPrice
	return total / 1_000_000
}

// Registry maps tier × provider to concrete models.
type Registry struct {
	mu              sync.RWMutex
	models          map[string]ModelSpec
	order           []string // registration order, used for default selection
	defaultProvider Provider
}

// NewRegistry creates an empty registry that prefers defaultProvider when
// resolving a tier without an explicit provider.
func NewRegistry(defaultProvider Provider) *Registry {
	if defaultProvider == "" {
		defaultProvider = ProviderAnthropic
	}
	return &Registry{
		models:          make(map[string]ModelSpec),
		defaultProvider: defaultProvider,
	}
}

// NewDefaultRegistry creates a registry populated with the built-in catalog.
func NewDefaultRegistry(defaultProvider Provider) *Registry {
	r := NewRegistry(defaultProvider)
	for _, spec := range builtinModels() {
		// Built-ins are known-valid.
		_ = r.RegisterModel(spec)
	}
	return r
}

// DefaultProvider returns the provider preferred when none is requested.
func (r *Registry) DefaultProvider() Provider {
	return r.defaultProvider
}

// RegisterModel adds or replaces a model. Re-registering an ID keeps its
// original position in the default selection order.
func (r *Registry) RegisterModel(spec ModelSpec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return errors.New("models: model id is required")
	}
	if !spec.Tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, spec.Tier)
	}
	if spec.Provider == "" {
		return fmt.Errorf("models: provider is required for %s", spec.ID)
	}
	if spec.Name == "" {
		spec.Name = spec.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[spec.ID]; !exists {
		r.order = append(r.order, spec.ID)
	}
	r.models[spec.ID] = spec
	return nil
}

// Get retrieves a model by ID.
func (r *Registry) Get(id string) (ModelSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.models[id]
	return spec, ok
}

// GetDefaultModel resolves a tier to a model. The requested provider is
// preferred, then the registry's default provider, then any provider that
// serves the tier. It fails only when the tier has no model at all.
func (r *Registry) GetDefaultModel(tier Tier, provider Provider) (ModelSpec, error) {
	if !tier.Valid() {
		return ModelSpec{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := []Provider{provider, r.defaultProvider}
	for _, want := range candidates {
		if want == "" {
			continue
		}
		for _, id := range r.order {
			spec := r.models[id]
			if spec.Tier == tier && spec.Provider == want {
				return spec, nil
			}
		}
	}
	for _, id := range r.order {
		if spec := r.models[id]; spec.Tier == tier {
			return spec, nil
		}
	}
	return ModelSpec{}, fmt.Errorf("%w: %s", ErrNoModelForTier, tier)
}

// List returns all models sorted by provider, then tier, then ID.
func (r *Registry) List() []ModelSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ModelSpec, 0, len(r.models))
	for _, spec := range r.models {
		result = append(result, spec)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Provider != result[j].Provider {
			return result[i].Provider < result[j].Provider
		}
		if result[i].Tier != result[j].Tier {
			return tierRank(result[i].Tier) < tierRank(result[j].Tier)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func tierRank(t Tier) int {
	switch t {
	case TierFast:
		return 0
	case TierQuality:
		return 1
	case TierExpert:
		return 2
	default:
		return 3
	}
}

func builtinModels() []ModelSpec {
	return []ModelSpec{
		// Anthropic models
		{
			ID:              "claude-3-5-haiku-latest",
			Name:            "Claude 3.5 Haiku",
			Provider:        ProviderAnthropic,
			Tier:            TierFast,
			ContextWindow:   200000,
			MaxOutputTokens: 8192,
			InputPrice:      0.8,
			OutputPrice:     4.0,
		},
		{
			ID:              "claude-sonnet-4-20250514",
			Name:            "Claude Sonnet 4",
			Provider:        ProviderAnthropic,
			Tier:            TierQuality,
			ContextWindow:   200000,
			MaxOutputTokens: 64000,
			InputPrice:      3.0,
			OutputPrice:     15.0,
		},
		{
			ID:              "claude-opus-4-20250514",
			Name:            "Claude Opus 4",
			Provider:        ProviderAnthropic,
			Tier:            TierExpert,
			ContextWindow:   200000,
			MaxOutputTokens: 32000,
			InputPrice:      15.0,
			OutputPrice:     75.0,
		},

		// OpenAI models
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o Mini",
			Provider:        ProviderOpenAI,
			Tier:            TierFast,
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			InputPrice:      0.15,
			OutputPrice:     0.6,
		},
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			Provider:        ProviderOpenAI,
			Tier:            TierQuality,
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			InputPrice:      2.5,
			OutputPrice:     10.0,
		},
		{
			ID:              "o1",
			Name:            "o1",
			Provider:        ProviderOpenAI,
			Tier:            TierExpert,
			ContextWindow:   200000,
			MaxOutputTokens: 100000,
			InputPrice:      15.0,
			OutputPrice:     60.0,
		},

		// Google models
		{
			ID:              "gemini-2.0-flash",
			Name:            "Gemini 2.0 Flash",
			Provider:        ProviderGoogle,
			Tier:            TierFast,
			ContextWindow:   1000000,
			MaxOutputTokens: 8192,
			InputPrice:      0.1,
			OutputPrice:     0.4,
		},
		{
			ID:              "gemini-2.5-flash",
			Name:            "Gemini 2.5 Flash",
			Provider:        ProviderGoogle,
			Tier:            TierQuality,
			ContextWindow:   1000000,
			MaxOutputTokens: 65536,
			InputPrice:      0.3,
			OutputPrice:     2.5,
		},
		{
			ID:              "gemini-2.5-pro",
			Name:            "Gemini 2.5 Pro",
			Provider:        ProviderGoogle,
			Tier:            TierExpert,
			ContextWindow:   1000000,
			MaxOutputTokens: 65536,
			InputPrice:      1.25,
			OutputPrice:     10.0,
		},
	}
}
