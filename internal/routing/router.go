package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/tierroute/internal/models"
)

// Classifier resolves messages the heuristic finds ambiguous.
type Classifier interface {
	Classify(ctx context.Context, message string) Result
}

// Recorder observes routing decisions.
type Recorder interface {
	RecordClassification(source string, tier models.Tier, classifierUsed bool)
}

// Config configures a Router.
type Config struct {
	// ForceTier routes every request to one tier without scoring.
	ForceTier models.Tier `yaml:"force_tier"`

	// Intelligent hands ambiguous heuristic scores to the LLM classifier.
	Intelligent bool `yaml:"intelligent"`

	// Threshold is the fast-tier cutoff (default 0.4).
	Threshold float64 `yaml:"threshold"`

	// AmbiguityLow and AmbiguityHigh bound the ambiguity band (default 0.3 to 0.7).
	AmbiguityLow  float64 `yaml:"ambiguity_low"`
	AmbiguityHigh float64 `yaml:"ambiguity_high"`

	// SimplePatterns and ComplexPatterns extend the heuristic.
	SimplePatterns  []string `yaml:"simple_patterns"`
	ComplexPatterns []string `yaml:"complex_patterns"`

	// TaskTiers overrides the default task table.
	TaskTiers map[string]models.Tier `yaml:"task_tiers"`

	// Provider is preferred when resolving a tier to a model.
	Provider models.Provider `yaml:"provider"`
}

// Router is the single entry point for tier decisions.
type Router struct {
	config     Config
	heuristic  HeuristicOptions
	taskTiers  map[string]models.Tier
	registry   *models.Registry
	classifier Classifier
	recorder   Recorder
	logger     *slog.Logger
}

// Option configures optional Router collaborators.
type Option func(*Router)

// WithClassifier sets the LLM classifier used for ambiguous scores.
func WithClassifier(c Classifier) Option {
	return func(r *Router) { r.classifier = c }
}

// WithRecorder sets a decision observer.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// NewRouter validates cfg and creates a Router.
func NewRouter(cfg Config, registry *models.Registry, opts ...Option) (*Router, error) {
	if registry == nil {
		return nil, errors.New("routing: registry is required")
	}
	if cfg.ForceTier != "" && !cfg.ForceTier.Valid() {
		return nil, fmt.Errorf("routing: force tier: %w: %q", models.ErrInvalidTier, cfg.ForceTier)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("routing: threshold %v outside [0, 1]", cfg.Threshold)
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.AmbiguityLow == 0 && cfg.AmbiguityHigh == 0 {
		cfg.AmbiguityLow, cfg.AmbiguityHigh = 0.3, 0.7
	}
	if cfg.AmbiguityLow > cfg.AmbiguityHigh {
		return nil, fmt.Errorf("routing: ambiguity band [%v, %v] is inverted", cfg.AmbiguityLow, cfg.AmbiguityHigh)
	}

	simple, err := compilePatterns(cfg.SimplePatterns)
	if err != nil {
		return nil, err
	}
	complexRe, err := compilePatterns(cfg.ComplexPatterns)
	if err != nil {
		return nil, err
	}

	taskTiers := make(map[string]models.Tier, len(cfg.TaskTiers))
	for task, tier := range cfg.TaskTiers {
		if !tier.Valid() {
			return nil, fmt.Errorf("routing: task %q: %w: %q", task, models.ErrInvalidTier, tier)
		}
		taskTiers[NormalizeTask(task)] = tier
	}

	r := &Router{
		config: cfg,
		heuristic: HeuristicOptions{
			SimplePatterns:  simple,
			ComplexPatterns: complexRe,
			Threshold:       cfg.Threshold,
		},
		taskTiers: taskTiers,
		registry:  registry,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r, nil
}

// Classify routes a message: a forced tier wins, otherwise the heuristic
// scores it and, in intelligent mode, the LLM classifier settles scores in
// the ambiguity band.
func (r *Router) Classify(ctx context.Context, message string) (Result, error) {
	if r.config.ForceTier != "" {
		return r.finish("force", r.forced())
	}

	result := ClassifyHeuristic(message, r.heuristic)
	if !r.config.Intelligent || result.Score < r.config.AmbiguityLow || result.Score > r.config.AmbiguityHigh {
		return r.finish("heuristic", result)
	}

	band := fmt.Sprintf("ambiguous score %.2f in [%.2f, %.2f]", result.Score, r.config.AmbiguityLow, r.config.AmbiguityHigh)
	if r.classifier == nil {
		result.Reasons = append(result.Reasons, band+"; no llm classifier configured")
		return r.finish("heuristic", result)
	}

	llm := r.classifier.Classify(ctx, message)
	reasons := make([]string, 0, len(llm.Reasons)+1)
	reasons = append(reasons, band+"; consulted llm classifier")
	reasons = append(reasons, llm.Reasons...)

	r.logger.Debug("ambiguous score resolved by llm classifier",
		"heuristic_score", result.Score,
		"heuristic_tier", result.Tier,
		"llm_tier", llm.Tier,
	)
	return r.finish("llm", Result{
		Tier:           llm.Tier,
		Score:          llm.Score,
		Reasons:        reasons,
		ClassifierUsed: true,
	})
}

// ClassifyTask routes a task label through the task table.
func (r *Router) ClassifyTask(task string) (Result, error) {
	if r.config.ForceTier != "" {
		return r.finish("force", r.forced())
	}

	tier, source := lookupTaskTier(task, r.taskTiers)
	var reason string
	switch source {
	case "unknown":
		reason = fmt.Sprintf("unknown task %q defaults to %s", task, tier)
	default:
		reason = fmt.Sprintf("task %q maps to %s (%s)", NormalizeTask(task), tier, source)
	}
	return r.finish("task", Result{
		Tier:    tier,
		Score:   tierScore(tier),
		Reasons: []string{reason},
	})
}

// Config returns the effective configuration.
func (r *Router) Config() Config {
	return r.config
}

func (r *Router) forced() Result {
	tier := r.config.ForceTier
	return Result{
		Tier:    tier,
		Score:   tierScore(tier),
		Reasons: []string{fmt.Sprintf("forced tier override: %s", tier)},
	}
}

func (r *Router) finish(source string, result Result) (Result, error) {
	spec, err := r.registry.GetDefaultModel(result.Tier, r.config.Provider)
	if err != nil {
		return Result{}, fmt.Errorf("routing: resolve model: %w", err)
	}
	result.ModelID = spec.ID
	if r.recorder != nil {
		r.recorder.RecordClassification(source, result.Tier, result.ClassifierUsed)
	}
	return result, nil
}

func tierScore(tier models.Tier) float64 {
	switch tier {
	case models.TierFast:
		return 0
	case models.TierExpert:
		return 1
	default:
		return 0.5
	}
}
