// Package routing decides which cost tier serves a request.
//
// A deterministic heuristic scores message complexity; scores that land in an
// ambiguity band can optionally be re-classified by a small LLM. Task labels
// map to tiers through a fixed table with caller overrides.
package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/tierroute/internal/models"
)

const (
	// DefaultThreshold is the score below which a message routes to the fast tier.
	DefaultThreshold = 0.4

	// ExpertThreshold is the score at or above which a message routes to the expert tier.
	ExpertThreshold = 0.75

	baseScore      = 0.5
	complexStep    = 0.2
	complexCap     = 0.4
	shortWordLimit = 8
	longWordLimit  = 50
)

// Result is a routing decision. Reasons always has at least one entry.
type Result struct {
	Tier           models.Tier `json:"tier"`
	ModelID        string      `json:"model_id"`
	Score          float64     `json:"score"`
	Reasons        []string    `json:"reasons"`
	ClassifierUsed bool        `json:"classifier_used"`
}

var (
	greetingRegex = regexp.MustCompile(`(?i)^(hi|hello|hey|yo|hiya|thanks|thank you|thx|ty|ok|okay|k|yes|no|yep|yeah|nope|sure|cool|great|nice|bye|goodbye|see ya|cheers|good (morning|afternoon|evening|night))[\s!.?,]*$`)

	simpleRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(what|who|when|where|which)('s|\s+(is|are|was|were)\b)`),
		regexp.MustCompile(`(?i)^\s*(is|are|do|does|did|can|could|will|would|should|has|have)\s+\w+`),
		regexp.MustCompile(`(?i)^\s*(define|translate|list|spell|convert)\b`),
		regexp.MustCompile(`(?i)\bhow (many|much|old|long|far)\b`),
	}

	numberedListRegex = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)
	backRefRegex      = regexp.MustCompile(`(?i)\b(earlier|previous(ly)?|as (i|you) (said|mentioned)|you said|that one|the last one|change it|fix it|same as before)\b`)
)

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

var complexPatterns = []namedPattern{
	{"plan", regexp.MustCompile(`(?i)\bplan(s|ning|ned)?\b`)},
	{"compare", regexp.MustCompile(`(?i)\bcompar(e|es|ing|ison)\b`)},
	{"analyze", regexp.MustCompile(`(?i)\banaly[sz](e|es|is|ing)\b`)},
	{"optimize", regexp.MustCompile(`(?i)\boptimi[sz](e|es|ing|ation)\b`)},
	{"evaluate", regexp.MustCompile(`(?i)\bevaluat(e|es|ing|ion)\b`)},
	{"strategy", regexp.MustCompile(`(?i)\bstrateg(y|ies|ic)\b`)},
	{"synthesize", regexp.MustCompile(`(?i)\bsynthesi[sz](e|es|ing)\b`)},
	{"architecture", regexp.MustCompile(`(?i)\barchitect(ure|ural)?\b`)},
	{"trade-off", regexp.MustCompile(`(?i)\btrade[- ]?offs?\b`)},
	{"refactor/debug/review", regexp.MustCompile(`(?i)\b(refactor|debug|review)(s|ing|ed)?\b`)},
}

// HeuristicOptions extends the built-in scoring.
type HeuristicOptions struct {
	// SimplePatterns are extra patterns that mark a simple query.
	SimplePatterns []*regexp.Regexp
	// ComplexPatterns are extra patterns that each add complexity.
	ComplexPatterns []*regexp.Regexp
	// Threshold is the fast-tier cutoff; values <= 0 use DefaultThreshold.
	Threshold float64
}

// ClassifyHeuristic scores message complexity with fixed patterns. It does
// no I/O and returns the same result for the same inputs. ModelID is left
// empty.
func ClassifyHeuristic(message string, opts HeuristicOptions) Result {
	trimmed := strings.TrimSpace(message)
	if greetingRegex.MatchString(trimmed) {
		return Result{
			Tier:    models.TierFast,
			Score:   0,
			Reasons: []string{"greeting or acknowledgment: score 0.00 -> " + string(models.TierFast)},
		}
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	score := baseScore
	var reasons []string

	words := len(strings.Fields(trimmed))
	switch {
	case words <= shortWordLimit:
		score -= 0.2
		reasons = append(reasons, fmt.Sprintf("short message (%d words): -0.20", words))
	case words >= longWordLimit:
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("long message (%d words): +0.15", words))
	}

	if matchesAny(trimmed, simpleRegexes) || matchesAny(trimmed, opts.SimplePatterns) {
		score -= 0.2
		reasons = append(reasons, "simple query pattern: -0.20")
	}

	var matched []string
	for _, p := range complexPatterns {
		if p.re.MatchString(trimmed) {
			matched = append(matched, p.name)
		}
	}
	for _, re := range opts.ComplexPatterns {
		if re.MatchString(trimmed) {
			matched = append(matched, re.String())
		}
	}
	if len(matched) > 0 {
		bonus := float64(len(matched)) * complexStep
		if bonus > complexCap {
			bonus = complexCap
		}
		score += bonus
		reasons = append(reasons, fmt.Sprintf("complex patterns [%s]: +%.2f", strings.Join(matched, ", "), bonus))
	}

	if q := strings.Count(trimmed, "?"); q >= 2 {
		score += 0.1
		reasons = append(reasons, fmt.Sprintf("multiple questions (%d): +0.10", q))
	}

	if n := len(numberedListRegex.FindAllStringIndex(trimmed, -1)); n >= 2 {
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("numbered list (%d items): +0.15", n))
	}

	if backRefRegex.MatchString(trimmed) {
		score += 0.1
		reasons = append(reasons, "refers to earlier conversation: +0.10")
	}

	score = clamp(score)
	tier := tierForScore(score, threshold)
	reasons = append(reasons, fmt.Sprintf("score %.2f -> %s", score, tier))

	return Result{
		Tier:    tier,
		Score:   score,
		Reasons: reasons,
	}
}

// tierForScore checks the fast cutoff first, so raising the threshold can
// only move a score toward the fast tier.
func tierForScore(score, threshold float64) models.Tier {
	switch {
	case score < threshold:
		return models.TierFast
	case score >= ExpertThreshold:
		return models.TierExpert
	default:
		return models.TierQuality
	}
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("routing: invalid pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
