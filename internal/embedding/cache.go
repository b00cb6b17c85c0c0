package embedding

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/observability"
)

// VectorCache is a persistent second-tier store for embeddings, shared
// across sessions. Keys are NormalizeKey(text) scoped by model.
type VectorCache interface {
	Get(ctx context.Context, model, key string) ([]float32, bool, error)
	Put(ctx context.Context, model, key string, vector []float32) error
}

// Compile-time check that CachingEmbedder implements Embedder.
var _ Embedder = (*CachingEmbedder)(nil)

// CachingEmbedder memoizes embeddings per normalized name. Lookups go to the
// in-process map, then the optional VectorCache, then the wrapped Embedder.
// Concurrent requests for the same key share one upstream call.
type CachingEmbedder struct {
	inner   Embedder
	store   VectorCache
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu    sync.RWMutex
	cache map[string][]float32
	group singleflight.Group
}

// NewCachingEmbedder wraps inner. store may be nil.
func NewCachingEmbedder(inner Embedder, store VectorCache, metrics *observability.Metrics, logger zerolog.Logger) *CachingEmbedder {
	return &CachingEmbedder{
		inner:   inner,
		store:   store,
		metrics: metrics,
		logger:  logger.With().Str("component", "embedding_cache").Logger(),
		cache:   make(map[string][]float32),
	}
}

// Provider returns the wrapped embedder's provider.
func (c *CachingEmbedder) Provider() string {
	return c.inner.Provider()
}

// Model returns the wrapped embedder's model.
func (c *CachingEmbedder) Model() string {
	return c.inner.Model()
}

// Len returns the number of embeddings held in memory.
func (c *CachingEmbedder) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Embed returns the cached embedding of NormalizeKey(text), computing it on a miss.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := domain.NormalizeKey(text)

	c.mu.RLock()
	vec, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		c.metrics.RecordEmbeddingCacheHit("memory")
		return vec, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (c *CachingEmbedder) load(ctx context.Context, key string) ([]float32, error) {
	model := c.inner.Model()

	if c.store != nil {
		vec, found, err := c.store.Get(ctx, model, key)
		switch {
		case err != nil:
			// The persistent tier is an optimization only.
			c.logger.Warn().Err(err).Str("key", key).Msg("vector cache lookup failed")
		case found:
			c.metrics.RecordEmbeddingCacheHit("qdrant")
			c.remember(key, vec)
			return vec, nil
		}
	}

	c.metrics.RecordEmbeddingCacheMiss()
	vec, err := c.inner.Embed(ctx, key)
	if err != nil {
		return nil, err
	}
	c.remember(key, vec)

	if c.store != nil {
		if err := c.store.Put(ctx, model, key, vec); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("vector cache store failed")
		}
	}
	return vec, nil
}

func (c *CachingEmbedder) remember(key string, vec []float32) {
	c.mu.Lock()
	c.cache[key] = vec
	c.mu.Unlock()
}
