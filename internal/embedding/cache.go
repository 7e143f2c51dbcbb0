package embedding

import (
	"context"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/singleflight"
)

// CachedEmbedder remembers recent query embeddings. Document batches are
// passed through untouched.
type CachedEmbedder struct {
	embeddings.Embedder

	cache *lru.Cache[string, []float32]
	group singleflight.Group
}

// WithQueryCache wraps embedder with an LRU of the given size. A size of zero
// returns embedder unchanged.
func WithQueryCache(embedder embeddings.Embedder, size int) (embeddings.Embedder, error) {
	if size <= 0 {
		return embedder, nil
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{Embedder: embedder, cache: cache}, nil
}

// EmbedQuery returns the cached vector for text or computes it once, even
// when several callers ask for the same text at the same time. The shared
// call does not stop when the caller that started it goes away.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return slices.Clone(v), nil
	}

	v, err, _ := c.group.Do(text, func() (interface{}, error) {
		vec, err := c.Embedder.EmbedQuery(context.WithoutCancel(ctx), text)
		if err != nil {
			return nil, err
		}
		if len(vec) > 0 {
			c.cache.Add(text, vec)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]float32)), nil
}
