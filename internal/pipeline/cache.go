package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/haasonsaas/tierroute/internal/cache"
	"github.com/haasonsaas/tierroute/internal/providers"
)

// ResponseCacheOptions configures a ResponseCache.
type ResponseCacheOptions struct {
	// TTL is how long a response stays valid (default 5m).
	TTL time.Duration
	// MaxEntries bounds the cache (default 500).
	MaxEntries int
	// OnLookup is called after every lookup with the outcome.
	OnLookup func(hit bool)
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// ResponseCache serves repeated message sequences without calling the
// provider again.
type ResponseCache struct {
	entries  *cache.TTLCache[uint64, *ResponseContext]
	onLookup func(hit bool)
}

// NewResponseCache creates a response cache.
func NewResponseCache(opts ResponseCacheOptions) *ResponseCache {
	return &ResponseCache{
		entries: cache.NewTTLCache[uint64, *ResponseContext](cache.TTLConfig{
			TTL:     opts.TTL,
			MaxSize: opts.MaxEntries,
			Now:     opts.Now,
		}),
		onLookup: opts.OnLookup,
	}
}

// Middleware returns the caching middleware. A hit returns a copy of the
// stored response with the cacheHit flag set and does not call next. Only
// responses with non-empty content are stored.
func (c *ResponseCache) Middleware() Middleware {
	return func(ctx context.Context, req *RequestContext, next Handler) (*ResponseContext, error) {
		key := messagesKey(req.Messages)

		if cached, ok := c.entries.Get(key); ok {
			c.lookup(true)
			hit := cached.clone()
			hit.SetMeta(MetaCacheHit, true)
			return hit, nil
		}
		c.lookup(false)

		resp, err := next(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil && resp.Content != "" {
			c.entries.Set(key, resp.clone())
		}
		return resp, nil
	}
}

// Stats returns hit, miss and eviction counters.
func (c *ResponseCache) Stats() cache.CacheStats {
	return c.entries.Stats()
}

// Clear drops every cached response.
func (c *ResponseCache) Clear() {
	c.entries.Clear()
}

func (c *ResponseCache) lookup(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

// messagesKey hashes the role:content pairs joined with "|".
func messagesKey(messages []providers.Message) uint64 {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(m.Role)
		b.WriteByte(':')
		b.WriteString(m.Content)
	}
	return xxhash.Sum64String(b.String())
}
