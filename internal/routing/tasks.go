package routing

import (
	"strings"

	"github.com/haasonsaas/tierroute/internal/models"
)

// DefaultTaskTiers maps well-known task labels to tiers.
var DefaultTaskTiers = map[string]models.Tier{
	// fast
	"classification":    models.TierFast,
	"extraction":        models.TierFast,
	"sentiment":         models.TierFast,
	"entity-extraction": models.TierFast,
	"summarization":     models.TierFast,
	"translation":       models.TierFast,
	"formatting":        models.TierFast,
	"tagging":           models.TierFast,

	// quality
	"content-generation": models.TierQuality,
	"chat":               models.TierQuality,
	"code-generation":    models.TierQuality,
	"explanation":        models.TierQuality,
	"comparison":         models.TierQuality,
	"planning":           models.TierQuality,
	"editing":            models.TierQuality,
	"research":           models.TierQuality,

	// expert
	"financial":         models.TierExpert,
	"legal-analysis":    models.TierExpert,
	"strategy":          models.TierExpert,
	"architecture":      models.TierExpert,
	"audit":             models.TierExpert,
	"complex-reasoning": models.TierExpert,
}

// NormalizeTask lowercases a task label and folds underscores and spaces to dashes.
func NormalizeTask(task string) string {
	task = strings.ToLower(strings.TrimSpace(task))
	task = strings.ReplaceAll(task, "_", "-")
	return strings.Join(strings.Fields(task), "-")
}

// lookupTaskTier returns the tier for a task and where it came from.
// Overrides win over the defaults; unknown tasks route to quality.
func lookupTaskTier(task string, overrides map[string]models.Tier) (models.Tier, string) {
	key := NormalizeTask(task)
	if tier, ok := overrides[key]; ok {
		return tier, "override"
	}
	if tier, ok := DefaultTaskTiers[key]; ok {
		return tier, "default"
	}
	return models.TierQuality, "unknown"
}
