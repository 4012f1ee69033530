package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/tierroute/internal/models"
)

// Environment variables merged into fields the config file leaves unset.
const (
	EnvForceTier       = "TIERROUTE_FORCE_TIER"
	EnvIntelligent     = "TIERROUTE_INTELLIGENT"
	EnvThreshold       = "TIERROUTE_THRESHOLD"
	EnvClassifierModel = "TIERROUTE_CLASSIFIER_MODEL"
)

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var issues []string

	if value, ok := lookupTrimmed(lookup, EnvForceTier); ok && cfg.Router.ForceTier == "" {
		tier, err := models.ParseTier(value)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", EnvForceTier, err))
		} else {
			cfg.Router.ForceTier = tier
		}
	}

	if value, ok := lookupTrimmed(lookup, EnvIntelligent); ok && !cfg.Router.Intelligent {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: expected a boolean, got %q", EnvIntelligent, value))
		} else {
			cfg.Router.Intelligent = enabled
		}
	}

	if value, ok := lookupTrimmed(lookup, EnvThreshold); ok && cfg.Router.Threshold == 0 {
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil || threshold < 0 || threshold > 1 {
			issues = append(issues, fmt.Sprintf("%s: expected a number in [0,1], got %q", EnvThreshold, value))
		} else {
			cfg.Router.Threshold = threshold
		}
	}

	if value, ok := lookupTrimmed(lookup, EnvClassifierModel); ok && cfg.Classifier.Model == "" {
		cfg.Classifier.Model = value
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	value, ok := lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
