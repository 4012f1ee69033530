// Package pipeline wraps provider calls in an ordered chain of middlewares.
//
// Middlewares nest like an onion: each receives the request and a next
// handler, runs code before delegating inward and after the inner layers
// return. A middleware can rewrite the request, transform the response,
// short-circuit without calling next, or call next more than once.
package pipeline

import (
	"context"
	"time"

	"github.com/haasonsaas/tierroute/internal/models"
	"github.com/haasonsaas/tierroute/internal/providers"
	"github.com/haasonsaas/tierroute/internal/routing"
)

// Metadata keys set or read by the built-in middlewares.
const (
	MetaTaskType = "taskType"
	MetaCacheHit = "cacheHit"
	MetaAttempts = "attempts"
)

// RequestContext is threaded by pointer through every middleware. Changes
// made before calling next are visible to inner layers and the final handler.
type RequestContext struct {
	RequestID      string
	Messages       []providers.Message
	Classification routing.Result
	SystemPrompt   string
	MaxTokens      int
	Temperature    *float64
	Metadata       map[string]any
}

// ResponseContext is produced by the final handler and handed outward.
type ResponseContext struct {
	Content      string
	ModelID      string
	Tier         models.Tier
	InputTokens  int64
	OutputTokens int64
	StopReason   string
	Latency      time.Duration
	Metadata     map[string]any
}

// Handler produces a response for a request. The final handler and every
// next continuation have this shape.
type Handler func(ctx context.Context, req *RequestContext) (*ResponseContext, error)

// Middleware wraps the remainder of the chain.
type Middleware func(ctx context.Context, req *RequestContext, next Handler) (*ResponseContext, error)

// TaskType returns the task type recorded in the request metadata, or
// "unknown".
func (r *RequestContext) TaskType() string {
	if r.Metadata != nil {
		if v, ok := r.Metadata[MetaTaskType].(string); ok && v != "" {
			return v
		}
	}
	return "unknown"
}

// SetMeta sets a metadata value, allocating the map if needed.
func (r *RequestContext) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// SetMeta sets a metadata value, allocating the map if needed.
func (r *ResponseContext) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// CacheHit reports whether the response was served by the response cache.
func (r *ResponseContext) CacheHit() bool {
	hit, _ := r.Metadata[MetaCacheHit].(bool)
	return hit
}

func (r *ResponseContext) clone() *ResponseContext {
	c := *r
	c.Metadata = make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	return &c
}
