package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"cortex/internal/logging"
)

// CachedEngine wraps an Engine with a write-through, TTL-bounded cache
// (§4.3). Key = sha256(text); misses are backfilled in batch to the inner
// engine and inserted with the configured TTL. Ristretto handles eviction
// and concurrency internally, so this wrapper carries no locks of its own.
type CachedEngine struct {
	inner Engine
	cache *ristretto.Cache[string, []float32]
	ttl   time.Duration
}

// NewCachedEngine builds a cache of the given entry capacity in front of
// inner. capacity <= 0 falls back to a capacity of 10,000 entries.
func NewCachedEngine(inner Engine, capacity int64, ttl time.Duration) (*CachedEngine, error) {
	if capacity <= 0 {
		capacity = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEngine{inner: inner, cache: cache, ttl: ttl}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text if present, else embeds via the
// inner engine and backfills the cache.
func (c *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		logging.Get(logging.CategoryEmbedding).Debug("embedding cache hit")
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(key, v)
	return v, nil
}

// EmbedBatch aligns output 1:1 with input, serving cache hits directly and
// backfilling the inner engine in one batch call for the misses.
func (c *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		key := cacheKey(t)
		if v, ok := c.cache.Get(key); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = embedded[j]
		c.set(cacheKey(missTexts[j]), embedded[j])
	}
	return out, nil
}

func (c *CachedEngine) set(key string, v []float32) {
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, v, 1, c.ttl)
	} else {
		c.cache.Set(key, v, 1)
	}
}

// Dimensions forwards to the inner engine.
func (c *CachedEngine) Dimensions() int { return c.inner.Dimensions() }

// Name reports the wrapped engine's name with a cache marker.
func (c *CachedEngine) Name() string { return "cached:" + c.inner.Name() }
