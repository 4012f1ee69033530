package experiments

import (
	"time"

	"github.com/haasonsaas/tierroute/internal/models"
)

// File is the on-disk layout of an experiments file.
type File struct {
	Experiments []Experiment `yaml:"experiments" json:"experiments"`
}

// Experiment splits traffic across weighted variants.
type Experiment struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Active      bool      `yaml:"active" json:"active"`
	Variants    []Variant `yaml:"variants" json:"variants"`
}

// Variant is one weighted branch of an experiment. Weights across an
// experiment should sum to 1.0.
type Variant struct {
	Name   string      `yaml:"name" json:"name"`
	Tier   models.Tier `yaml:"tier" json:"tier"`
	Weight float64     `yaml:"weight" json:"weight"`

	// Provider overrides the manager's provider when resolving the model.
	Provider models.Provider `yaml:"provider,omitempty" json:"provider,omitempty"`
	// SystemPrompt is passed through to the assignment.
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
}

// Assignment records one request routed through an experiment.
type Assignment struct {
	ID             string      `json:"id"`
	ExperimentName string      `json:"experiment"`
	VariantName    string      `json:"variant"`
	Tier           models.Tier `json:"tier"`
	ModelID        string      `json:"model_id"`
	SystemPrompt   string      `json:"system_prompt,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// VariantStats is the observed share of one variant.
type VariantStats struct {
	Variant  string  `json:"variant"`
	Count    int     `json:"count"`
	Fraction float64 `json:"fraction"`
}

// ValidationResult lists every problem found in an experiment.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func (e Experiment) clone() Experiment {
	c := e
	c.Variants = append([]Variant(nil), e.Variants...)
	return c
}
