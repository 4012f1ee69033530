package routing

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/haasonsaas/tierroute/internal/models"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClassifyHeuristic(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		wantTier  models.Tier
		wantScore float64
	}{
		{
			name:      "factual wh-question",
			message:   "What is the capital of France?",
			wantTier:  models.TierFast,
			wantScore: 0.1,
		},
		{
			name:      "neutral request",
			message:   "Write a short story about a robot learning to paint in the city at night",
			wantTier:  models.TierQuality,
			wantScore: 0.5,
		},
		{
			name:      "complex analysis capped",
			message:   "Compare and analyze the architecture trade-offs of microservices versus a monolith for our team, then plan the migration strategy.",
			wantTier:  models.TierExpert,
			wantScore: 0.9,
		},
		{
			name:      "numbered list",
			message:   "Please do these:\n1. fix the login\n2. update docs\n3. deploy",
			wantTier:  models.TierQuality,
			wantScore: 0.65,
		},
		{
			name:      "multiple questions",
			message:   "Why does this fail? And how should I fix the underlying issue?",
			wantTier:  models.TierQuality,
			wantScore: 0.6,
		},
		{
			name:      "long message",
			message:   strings.Repeat("word ", 60),
			wantTier:  models.TierQuality,
			wantScore: 0.65,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyHeuristic(tt.message, HeuristicOptions{})
			if got.Tier != tt.wantTier {
				t.Errorf("Tier = %s, want %s (reasons %v)", got.Tier, tt.wantTier, got.Reasons)
			}
			if !approxEqual(got.Score, tt.wantScore) {
				t.Errorf("Score = %.4f, want %.4f (reasons %v)", got.Score, tt.wantScore, got.Reasons)
			}
			last := got.Reasons[len(got.Reasons)-1]
			if !strings.HasPrefix(last, "score ") || !strings.HasSuffix(last, string(got.Tier)) {
				t.Errorf("final reason = %q, want score and tier", last)
			}
		})
	}
}

func TestClassifyHeuristic_Greetings(t *testing.T) {
	greetings := []string{"hi", "Hello!", "  thanks  ", "thank you", "ok", "Okay.", "yes", "no", "bye", "good morning", "cheers!"}
	for _, g := range greetings {
		got := ClassifyHeuristic(g, HeuristicOptions{})
		if got.Tier != models.TierFast || got.Score != 0 {
			t.Errorf("ClassifyHeuristic(%q) = %s %.2f, want fast 0.0", g, got.Tier, got.Score)
		}
		if len(got.Reasons) != 1 || got.Reasons[0] != "greeting or acknowledgment: score 0.00 -> fast" {
			t.Errorf("ClassifyHeuristic(%q) reasons = %v", g, got.Reasons)
		}
	}
}

func TestClassifyHeuristic_BackReference(t *testing.T) {
	got := ClassifyHeuristic("Take the version you wrote earlier and make it more formal for the board", HeuristicOptions{})
	found := false
	for _, r := range got.Reasons {
		if strings.Contains(r, "earlier conversation") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected back-reference reason, got %v", got.Reasons)
	}
	if !approxEqual(got.Score, 0.6) {
		t.Errorf("Score = %.2f, want 0.60", got.Score)
	}
}

func TestClassifyHeuristic_CustomPatterns(t *testing.T) {
	msg := "Set up kubernetes cluster for the payments service please now"

	base := ClassifyHeuristic(msg, HeuristicOptions{})
	custom := ClassifyHeuristic(msg, HeuristicOptions{
		ComplexPatterns: mustCompilePatterns(t, `(?i)kubernetes`),
	})
	if !approxEqual(custom.Score-base.Score, 0.2) {
		t.Errorf("custom complex pattern should add 0.2: base %.2f custom %.2f", base.Score, custom.Score)
	}

	simple := ClassifyHeuristic(msg, HeuristicOptions{
		SimplePatterns: mustCompilePatterns(t, `(?i)^set up`),
	})
	if !approxEqual(base.Score-simple.Score, 0.2) {
		t.Errorf("custom simple pattern should subtract 0.2: base %.2f simple %.2f", base.Score, simple.Score)
	}
}

func TestClassifyHeuristic_ScoreBoundsAndReasons(t *testing.T) {
	messages := []string{
		"",
		"?",
		"hi there friend",
		"Is it raining?",
		"Define entropy",
		strings.Repeat("Analyze, compare, evaluate and optimize the strategy? ", 20),
		"1. a\n2. b\n3. c\n4. d",
		"Refactor the module we discussed earlier, review it, then debug the architecture??",
	}
	for _, msg := range messages {
		got := ClassifyHeuristic(msg, HeuristicOptions{})
		if got.Score < 0 || got.Score > 1 {
			t.Errorf("ClassifyHeuristic(%q) score %.2f outside [0,1]", msg, got.Score)
		}
		if len(got.Reasons) == 0 {
			t.Errorf("ClassifyHeuristic(%q) returned no reasons", msg)
		}
	}
}

func TestClassifyHeuristic_ThresholdMovesTowardFast(t *testing.T) {
	messages := []string{
		"What is the capital of France?",
		"Write a short story about a robot learning to paint in the city at night",
		"Compare and analyze the architecture trade-offs of microservices versus a monolith for our team, then plan the migration strategy.",
		"Why does this fail? And how should I fix the underlying issue?",
	}
	thresholds := []float64{0.1, 0.3, 0.4, 0.5, 0.7, 0.8, 0.95, 1.0}

	for _, msg := range messages {
		prev := ClassifyHeuristic(msg, HeuristicOptions{Threshold: thresholds[0]})
		for _, th := range thresholds[1:] {
			got := ClassifyHeuristic(msg, HeuristicOptions{Threshold: th})
			if got.Tier != prev.Tier && got.Tier != models.TierFast {
				t.Errorf("%q: raising threshold to %.2f moved %s -> %s", msg, th, prev.Tier, got.Tier)
			}
			prev = got
		}
	}
}

func TestNormalizeTask(t *testing.T) {
	tests := map[string]string{
		"Summarization":     "summarization",
		"legal_analysis":    "legal-analysis",
		" code generation":  "code-generation",
		"Complex_Reasoning": "complex-reasoning",
	}
	for in, want := range tests {
		if got := NormalizeTask(in); got != want {
			t.Errorf("NormalizeTask(%q) = %q, want %q", in, got, want)
		}
	}
}

func mustCompilePatterns(t *testing.T, patterns ...string) []*regexp.Regexp {
	t.Helper()
	compiled, err := compilePatterns(patterns)
	if err != nil {
		t.Fatalf("compilePatterns() error = %v", err)
	}
	return compiled
}
