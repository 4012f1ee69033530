// Package server composes routing, experiments and the middleware pipeline
// into a single completion call and exposes it over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/tierroute/internal/experiments"
	"github.com/haasonsaas/tierroute/internal/observability"
	"github.com/haasonsaas/tierroute/internal/pipeline"
	"github.com/haasonsaas/tierroute/internal/providers"
	"github.com/haasonsaas/tierroute/internal/routing"
)

var (
	// ErrEmptyRequest is returned when a completion has no message content.
	ErrEmptyRequest = errors.New("server: request has no message content")

	// ErrNoProvider is returned by Complete when no provider handler is configured.
	ErrNoProvider = errors.New("server: no provider configured")
)

// Router classifies messages and task labels.
type Router interface {
	Classify(ctx context.Context, message string) (routing.Result, error)
	ClassifyTask(task string) (routing.Result, error)
}

// CompletionRequest is one chat completion routed by tier.
type CompletionRequest struct {
	Messages    []providers.Message `json:"messages"`
	Task        string              `json:"task,omitempty"`
	Experiment  string              `json:"experiment,omitempty"`
	System      string              `json:"system,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
}

// Completion is the outcome of a routed completion.
type Completion struct {
	RequestID      string                  `json:"request_id"`
	Content        string                  `json:"content"`
	ModelID        string                  `json:"model_id"`
	Tier           string                  `json:"tier"`
	InputTokens    int64                   `json:"input_tokens"`
	OutputTokens   int64                   `json:"output_tokens"`
	CacheHit       bool                    `json:"cache_hit"`
	LatencyMS      int64                   `json:"latency_ms"`
	Classification routing.Result          `json:"classification"`
	Assignment     *experiments.Assignment `json:"assignment,omitempty"`
	TraceID        string                  `json:"trace_id,omitempty"`
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Router      Router
	Experiments *experiments.Manager
	Pipeline    *pipeline.Pipeline
	// Final sends the request to a provider. Nil makes Complete fail with ErrNoProvider.
	Final  pipeline.Handler
	Logger *slog.Logger
	// Tracer opens the completion and classification spans. Nil uses the
	// global otel provider.
	Tracer *observability.Tracer
}

// Engine classifies a request, applies any experiment assignment and runs
// the pipeline.
type Engine struct {
	router      Router
	experiments *experiments.Manager
	pipeline    *pipeline.Pipeline
	final       pipeline.Handler
	logger      *slog.Logger
	tracer      *observability.Tracer
}

// NewEngine creates an engine. Router is required.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Router == nil {
		return nil, errors.New("server: router is required")
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = pipeline.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &Engine{
		router:      cfg.Router,
		experiments: cfg.Experiments,
		pipeline:    cfg.Pipeline,
		final:       cfg.Final,
		logger:      cfg.Logger.With("component", "engine"),
		tracer:      cfg.Tracer,
	}, nil
}

// Router returns the classification router.
func (e *Engine) Router() Router {
	return e.router
}

// Experiments returns the experiment manager, which may be nil.
func (e *Engine) Experiments() *experiments.Manager {
	return e.experiments
}

// Classify classifies a message, or a task label when task is set.
func (e *Engine) Classify(ctx context.Context, message, task string) (routing.Result, error) {
	kind := "message"
	if strings.TrimSpace(task) != "" {
		kind = "task"
	}
	ctx, span := e.tracer.TraceClassification(ctx, kind)
	defer span.End()

	var result routing.Result
	var err error
	if kind == "task" {
		result, err = e.router.ClassifyTask(task)
	} else {
		result, err = e.router.Classify(ctx, message)
	}
	if err != nil {
		e.tracer.RecordError(span, err)
		return result, err
	}
	e.tracer.SetAttributes(span,
		"route.tier", string(result.Tier),
		"route.model", result.ModelID,
		"route.score", result.Score,
		"route.classifier_used", result.ClassifierUsed,
	)
	return result, nil
}

// Complete routes req to a tier and runs it through the pipeline. When an
// active experiment is named, its assigned variant overrides the routed
// tier and model, and its system prompt applies unless req sets one.
func (e *Engine) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	message := lastUserMessage(req.Messages)
	if message == "" {
		return nil, ErrEmptyRequest
	}
	if e.final == nil {
		return nil, ErrNoProvider
	}

	requestID := uuid.NewString()
	ctx = observability.AddRequestID(ctx, requestID)
	ctx, span := e.tracer.Start(ctx, "route.complete")
	defer span.End()
	traceID := observability.GetTraceID(ctx)

	result, err := e.Classify(ctx, message, req.Task)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, fmt.Errorf("classify: %w", err)
	}

	systemPrompt := req.System
	var assignment *experiments.Assignment
	if req.Experiment != "" && e.experiments != nil {
		assignment, err = e.experiments.Assign(req.Experiment)
		if err != nil {
			e.tracer.RecordError(span, err)
			return nil, fmt.Errorf("assign experiment: %w", err)
		}
		if assignment != nil {
			ctx = observability.AddExperiment(ctx, assignment.ExperimentName)
			result.Tier = assignment.Tier
			result.ModelID = assignment.ModelID
			result.Reasons = append(result.Reasons,
				fmt.Sprintf("experiment %s: variant %s", assignment.ExperimentName, assignment.VariantName))
			if systemPrompt == "" {
				systemPrompt = assignment.SystemPrompt
			}
		}
	}

	rc := &pipeline.RequestContext{
		RequestID:      requestID,
		Messages:       req.Messages,
		Classification: result,
		SystemPrompt:   systemPrompt,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
	}
	if req.Task != "" {
		rc.SetMeta(pipeline.MetaTaskType, routing.NormalizeTask(req.Task))
	}

	resp, err := e.pipeline.Execute(ctx, rc, e.final)
	if err != nil {
		e.tracer.RecordError(span, err)
		e.logger.WarnContext(ctx, "completion failed",
			"tier", result.Tier, "model", result.ModelID, "trace_id", traceID, "error", err)
		return nil, err
	}

	return &Completion{
		RequestID:      requestID,
		Content:        resp.Content,
		ModelID:        resp.ModelID,
		Tier:           string(resp.Tier),
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		CacheHit:       resp.CacheHit(),
		LatencyMS:      resp.Latency.Milliseconds(),
		Classification: result,
		Assignment:     assignment,
		TraceID:        traceID,
	}, nil
}

func lastUserMessage(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}
