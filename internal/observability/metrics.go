package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haasonsaas/tierroute/internal/models"
)

// Metrics collects routing and provider-call metrics.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordRequest(models.TierFast, "gpt-4o-mini", "success", time.Since(start))
type Metrics struct {
	// RequestCounter counts pipeline executions.
	// Labels: tier, model, status (success|error)
	RequestCounter *prometheus.CounterVec

	// RequestDuration measures pipeline execution latency in seconds.
	// Labels: tier, model
	RequestDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// CacheLookups counts response cache lookups.
	// Labels: result (hit|miss)
	CacheLookups *prometheus.CounterVec

	// Classifications counts routing decisions.
	// Labels: source (forced|task|heuristic|llm), tier, llm (true|false)
	Classifications *prometheus.CounterVec

	// Assignments counts experiment assignments.
	// Labels: experiment, variant
	Assignments *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// uses the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierroute_requests_total",
				Help: "Total number of pipeline executions by tier, model, and status",
			},
			[]string{"tier", "model", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tierroute_request_duration_seconds",
				Help:    "Duration of pipeline executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"tier", "model"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierroute_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierroute_response_cache_lookups_total",
				Help: "Response cache lookups by result",
			},
			[]string{"result"},
		),

		Classifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierroute_classifications_total",
				Help: "Routing decisions by source, tier, and whether the LLM classifier was used",
			},
			[]string{"source", "tier", "llm"},
		),

		Assignments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierroute_experiment_assignments_total",
				Help: "Experiment assignments by experiment and variant",
			},
			[]string{"experiment", "variant"},
		),
	}
}

// RecordRequest records one pipeline execution.
func (m *Metrics) RecordRequest(tier models.Tier, model, status string, elapsed time.Duration) {
	m.RequestCounter.WithLabelValues(string(tier), model, status).Inc()
	m.RequestDuration.WithLabelValues(string(tier), model).Observe(elapsed.Seconds())
}

// RecordTokens adds input and output token counts for a model.
func (m *Metrics) RecordTokens(model string, input, output int64) {
	if input > 0 {
		m.TokensUsed.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		m.TokensUsed.WithLabelValues(model, "output").Add(float64(output))
	}
}

// RecordCacheLookup counts a response cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordClassification counts a routing decision.
func (m *Metrics) RecordClassification(source string, tier models.Tier, classifierUsed bool) {
	m.Classifications.WithLabelValues(source, string(tier), strconv.FormatBool(classifierUsed)).Inc()
}

// RecordAssignment counts an experiment assignment.
func (m *Metrics) RecordAssignment(experiment, variant string) {
	m.Assignments.WithLabelValues(experiment, variant).Inc()
}
