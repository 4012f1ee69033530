package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrNoHandler is returned by Execute when no final handler is supplied.
var ErrNoHandler = errors.New("pipeline: final handler is required")

// Pipeline is an ordered list of middlewares.
type Pipeline struct {
	mu          sync.RWMutex
	middlewares []Middleware
}

// New creates a pipeline with the given middlewares in order.
func New(middlewares ...Middleware) *Pipeline {
	p := &Pipeline{}
	for _, mw := range middlewares {
		p.Use(mw)
	}
	return p
}

// Use appends a middleware and returns the pipeline for chaining.
func (p *Pipeline) Use(mw Middleware) *Pipeline {
	if mw == nil {
		return p
	}
	p.mu.Lock()
	p.middlewares = append(p.middlewares, mw)
	p.mu.Unlock()
	return p
}

// Len returns the number of registered middlewares.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.middlewares)
}

// Execute runs req through every middleware and then final. Middlewares
// registered while an execution is in flight do not affect it.
func (p *Pipeline) Execute(ctx context.Context, req *RequestContext, final Handler) (*ResponseContext, error) {
	if final == nil {
		return nil, ErrNoHandler
	}
	if req == nil {
		req = &RequestContext{}
	}

	p.mu.RLock()
	chain := make([]Middleware, len(p.middlewares))
	copy(chain, p.middlewares)
	p.mu.RUnlock()

	return dispatch(chain, 0, final)(ctx, req)
}

// dispatch returns the handler for position i of the chain. Each call to
// the returned handler re-enters the remainder of the chain.
func dispatch(chain []Middleware, i int, final Handler) Handler {
	if i >= len(chain) {
		return final
	}
	return func(ctx context.Context, req *RequestContext) (*ResponseContext, error) {
		return chain[i](ctx, req, dispatch(chain, i+1, final))
	}
}
