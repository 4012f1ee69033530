// Package experiments assigns requests to weighted tier variants and
// validates experiment definitions.
package experiments

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/tierroute/internal/models"
)

// WeightTolerance is the allowed distance of a weight sum from 1.0.
const WeightTolerance = 0.01

var (
	// ErrExperimentNotFound is returned for operations on unknown experiments.
	ErrExperimentNotFound = errors.New("experiments: experiment not found")
	// ErrNoVariants is returned when assigning through an experiment without variants.
	ErrNoVariants = errors.New("experiments: experiment has no variants")
)

// ModelResolver maps a tier to a concrete model.
type ModelResolver interface {
	GetDefaultModel(tier models.Tier, provider models.Provider) (models.ModelSpec, error)
}

// Recorder observes assignments.
type Recorder interface {
	RecordAssignment(experiment, variant string)
}

// Manager holds experiments by name and the log of assignments made
// through them.
type Manager struct {
	mu          sync.RWMutex
	experiments map[string]Experiment
	assignments []Assignment
	// fileNames are the experiment names seen in the last loaded file.
	fileNames map[string]struct{}

	registry ModelResolver
	provider models.Provider
	random   func() float64
	now      func() time.Time
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRand sets the source of uniform draws in [0,1).
func WithRand(random func() float64) Option {
	return func(m *Manager) {
		if random != nil {
			m.random = random
		}
	}
}

// WithProvider sets the provider used to resolve variant tiers to models.
func WithProvider(provider models.Provider) Option {
	return func(m *Manager) { m.provider = provider }
}

// WithRecorder reports every assignment to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates an empty manager resolving models through registry.
func NewManager(registry ModelResolver, opts ...Option) *Manager {
	m := &Manager{
		experiments: make(map[string]Experiment),
		registry:    registry,
		random:      rand.Float64, // #nosec G404 -- traffic splitting does not require cryptographic randomness
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "experiments")
	return m
}

// Add registers exp, replacing any experiment with the same name.
func (m *Manager) Add(exp Experiment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments[exp.Name] = exp.clone()
}

// Remove deletes an experiment and reports whether it existed.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.experiments[name]
	delete(m.experiments, name)
	return ok
}

// Get returns the experiment with the given name.
func (m *Manager) Get(name string) (Experiment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.experiments[name]
	if !ok {
		return Experiment{}, false
	}
	return exp.clone(), true
}

// List returns every experiment sorted by name.
func (m *Manager) List() []Experiment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Experiment, 0, len(m.experiments))
	for _, exp := range m.experiments {
		out = append(out, exp.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetActive enables or disables an experiment.
func (m *Manager) SetActive(name string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrExperimentNotFound, name)
	}
	exp.Active = active
	m.experiments[name] = exp
	return nil
}

// Assign picks a variant of the named experiment, resolves its tier to a
// model and records the assignment. It returns nil and no error when the
// experiment is unknown or inactive.
func (m *Manager) Assign(name string) (*Assignment, error) {
	exp, ok := m.Get(name)
	if !ok || !exp.Active {
		return nil, nil
	}

	variant := SelectVariant(exp.Variants, m.random())
	if variant == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoVariants, name)
	}

	provider := m.provider
	if variant.Provider != "" {
		provider = variant.Provider
	}
	spec, err := m.registry.GetDefaultModel(variant.Tier, provider)
	if err != nil {
		return nil, fmt.Errorf("experiments: resolve model for %s/%s: %w", name, variant.Name, err)
	}

	assignment := Assignment{
		ID:             uuid.NewString(),
		ExperimentName: name,
		VariantName:    variant.Name,
		Tier:           variant.Tier,
		ModelID:        spec.ID,
		SystemPrompt:   variant.SystemPrompt,
		Timestamp:      m.now(),
	}

	m.mu.Lock()
	m.assignments = append(m.assignments, assignment)
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordAssignment(name, variant.Name)
	}
	m.logger.Debug("experiment assignment", "experiment", name, "variant", variant.Name, "model", spec.ID)
	return &assignment, nil
}

// SelectVariant walks the variants in order, accumulating weights, and
// returns the first whose cumulative weight exceeds draw. The last variant
// is returned when rounding leaves draw past the final sum. It returns nil
// only for an empty slice.
func SelectVariant(variants []Variant, draw float64) *Variant {
	if len(variants) == 0 {
		return nil
	}
	cumulative := 0.0
	for i := range variants {
		cumulative += variants[i].Weight
		if draw < cumulative {
			return &variants[i]
		}
	}
	return &variants[len(variants)-1]
}

// GetAssignments returns the assignments for one experiment, or all of
// them when name is empty.
func (m *Manager) GetAssignments(name string) []Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Assignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		if name == "" || a.ExperimentName == name {
			out = append(out, a)
		}
	}
	return out
}

// GetDistribution returns the observed share of each variant in declared
// order. Variants without assignments report zero. The second result is
// false for unknown experiments.
func (m *Manager) GetDistribution(name string) ([]VariantStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[name]
	if !ok {
		return nil, false
	}

	counts := make(map[string]int, len(exp.Variants))
	total := 0
	for _, a := range m.assignments {
		if a.ExperimentName != name {
			continue
		}
		counts[a.VariantName]++
		total++
	}

	stats := make([]VariantStats, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		s := VariantStats{Variant: v.Name, Count: counts[v.Name]}
		if total > 0 {
			s.Fraction = float64(s.Count) / float64(total)
		}
		stats = append(stats, s)
	}
	return stats, true
}

// ClearAssignments empties the assignment log.
func (m *Manager) ClearAssignments() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = nil
}

// Validate checks an experiment definition and reports every problem.
func Validate(exp Experiment) ValidationResult {
	var errs []string

	if exp.Name == "" {
		errs = append(errs, "experiment name is required")
	}
	if len(exp.Variants) == 0 {
		errs = append(errs, "experiment must have at least one variant")
	}

	seen := make(map[string]bool, len(exp.Variants))
	sum := 0.0
	for i, v := range exp.Variants {
		label := v.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if v.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("variant %s: weight must be positive, got %g", label, v.Weight))
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("duplicate variant name %q", v.Name))
		}
		seen[v.Name] = true
		if !v.Tier.Valid() {
			errs = append(errs, fmt.Sprintf("variant %s: invalid tier %q", label, v.Tier))
		}
		sum += v.Weight
	}

	if len(exp.Variants) > 0 && math.Abs(sum-1.0) > WeightTolerance {
		errs = append(errs, fmt.Sprintf("variant weights sum to %.3f, want 1.0 (±%.2f)", sum, WeightTolerance))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
