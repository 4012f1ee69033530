// Package config loads tierroute configuration from YAML or JSON5 files
// with $include support, defaults and environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/tierroute/internal/models"
	"github.com/haasonsaas/tierroute/internal/observability"
	"github.com/haasonsaas/tierroute/internal/providers"
	"github.com/haasonsaas/tierroute/internal/routing"
)

// Config is the main configuration structure for tierroute.
type Config struct {
	Version     int                       `yaml:"version"`
	Router      routing.Config            `yaml:"router"`
	Classifier  ClassifierConfig          `yaml:"classifier"`
	Provider    providers.Config          `yaml:"provider"`
	Models      []models.ModelSpec        `yaml:"models"`
	Pipeline    PipelineConfig            `yaml:"pipeline"`
	Experiments ExperimentsConfig         `yaml:"experiments"`
	Usage       UsageConfig               `yaml:"usage"`
	Logging     observability.LogConfig   `yaml:"logging"`
	Metrics     MetricsConfig             `yaml:"metrics"`
	Tracing     observability.TraceConfig `yaml:"tracing"`
	Server      ServerConfig              `yaml:"server"`
}

// ClassifierConfig configures the LLM classifier used for ambiguous messages.
type ClassifierConfig struct {
	// Model is the classification model. Empty disables the classifier.
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
	// Provider optionally points the classifier at a different provider.
	// An empty name reuses the main provider.
	Provider providers.Config `yaml:"provider"`
}

// PipelineConfig configures the built-in middlewares.
type PipelineConfig struct {
	Retry   RetryConfig   `yaml:"retry"`
	Timeout time.Duration `yaml:"timeout"`
	Cache   CacheConfig   `yaml:"cache"`
}

// RetryConfig configures the retry middleware. A nil MaxRetries uses the default.
type RetryConfig struct {
	MaxRetries *int          `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// CacheConfig configures the response cache middleware.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ExperimentsConfig points at an experiments file.
type ExperimentsConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// UsageConfig configures usage tracking and persistence.
type UsageConfig struct {
	DatabaseURL string        `yaml:"database_url"`
	MaxRecords  int           `yaml:"max_records"`
	MaxAge      time.Duration `yaml:"max_age"`
}

// MetricsConfig configures the Prometheus endpoint. A nil Enabled means on.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether the metrics endpoint is served.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with defaults applied and no file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg, lookup); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Provider.Provider == "" {
		cfg.Provider.Provider = string(models.ProviderAnthropic)
	}
	if cfg.Router.Provider == "" {
		cfg.Router.Provider = models.Provider(strings.ToLower(cfg.Provider.Provider))
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 2 * time.Second
	}
	if cfg.Classifier.CacheSize == 0 {
		cfg.Classifier.CacheSize = 1000
	}
	if cfg.Pipeline.Retry.MaxRetries == nil {
		retries := 2
		cfg.Pipeline.Retry.MaxRetries = &retries
	}
	if cfg.Pipeline.Retry.Backoff == 0 {
		cfg.Pipeline.Retry.Backoff = 100 * time.Millisecond
	}
	if cfg.Pipeline.Timeout == 0 {
		cfg.Pipeline.Timeout = 30 * time.Second
	}
	if cfg.Pipeline.Cache.TTL == 0 {
		cfg.Pipeline.Cache.TTL = 5 * time.Minute
	}
	if cfg.Pipeline.Cache.MaxEntries == 0 {
		cfg.Pipeline.Cache.MaxEntries = 500
	}
	if cfg.Usage.MaxRecords == 0 {
		cfg.Usage.MaxRecords = 10000
	}
	if cfg.Usage.MaxAge == 0 {
		cfg.Usage.MaxAge = 24 * time.Hour
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "tierroute"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Router.ForceTier != "" {
		tier, err := models.ParseTier(string(cfg.Router.ForceTier))
		if err != nil {
			issues = append(issues, fmt.Sprintf("router.force_tier: %v", err))
		} else {
			cfg.Router.ForceTier = tier
		}
	}
	if cfg.Router.Threshold < 0 || cfg.Router.Threshold > 1 {
		issues = append(issues, fmt.Sprintf("router.threshold must be within [0,1], got %g", cfg.Router.Threshold))
	}
	if !knownProvider(cfg.Provider.Provider) {
		issues = append(issues, fmt.Sprintf("provider.name %q is not supported (expected anthropic, openai, google or custom)", cfg.Provider.Provider))
	}
	if cfg.Classifier.Provider.Provider != "" && !knownProvider(cfg.Classifier.Provider.Provider) {
		issues = append(issues, fmt.Sprintf("classifier.provider.name %q is not supported", cfg.Classifier.Provider.Provider))
	}
	if cfg.Classifier.CacheSize < 0 {
		issues = append(issues, "classifier.cache_size must be positive")
	}
	if *cfg.Pipeline.Retry.MaxRetries < 0 {
		issues = append(issues, "pipeline.retry.max_retries must not be negative")
	}
	if cfg.Pipeline.Timeout < 0 {
		issues = append(issues, "pipeline.timeout must not be negative")
	}
	if cfg.Experiments.Watch && cfg.Experiments.File == "" {
		issues = append(issues, "experiments.watch requires experiments.file")
	}
	for i, spec := range cfg.Models {
		if spec.ID == "" {
			issues = append(issues, fmt.Sprintf("models[%d].id is required", i))
		}
		if !spec.Tier.Valid() {
			issues = append(issues, fmt.Sprintf("models[%d].tier %q is invalid", i, spec.Tier))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func knownProvider(name string) bool {
	switch models.Provider(strings.ToLower(strings.TrimSpace(name))) {
	case models.ProviderAnthropic, models.ProviderOpenAI, models.ProviderGoogle, models.ProviderCustom:
		return true
	default:
		return false
	}
}

// Registry builds a model registry from the built-in catalog plus any
// models declared in the configuration.
func (c *Config) Registry() (*models.Registry, error) {
	registry := models.NewDefaultRegistry(c.Router.Provider)
	for _, spec := range c.Models {
		if err := registry.RegisterModel(spec); err != nil {
			return nil, fmt.Errorf("register model %s: %w", spec.ID, err)
		}
	}
	return registry, nil
}

// ClassifierProvider returns the provider configuration for the classifier.
func (c *Config) ClassifierProvider() providers.Config {
	if c.Classifier.Provider.Provider == "" {
		return c.Provider
	}
	return c.Classifier.Provider
}
