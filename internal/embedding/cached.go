package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/vector"
	"github.com/contract-intel/backend/pkg/logger"
	"github.com/contract-intel/backend/pkg/utils"
)

type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from the cache. Cache errors only
// cost a cache miss.
type CachedEmbedder struct {
	next  vector.Embedder
	cache Cache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next vector.Embedder, cache Cache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

func (c *CachedEmbedder) Dimension() int {
	return c.next.Dimension()
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		keys[i] = utils.HashParts(c.model, text)
		embedding, ok, err := c.cache.GetEmbedding(ctx, keys[i])
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok && (c.Dimension() == 0 || len(embedding) == c.Dimension()) {
			out[i] = embedding
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		if j >= len(fresh) {
			break
		}
		out[i] = fresh[j]
		if err := c.cache.SetEmbedding(ctx, keys[i], fresh[j], c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	logger.Debug("Embeddings served",
		zap.Int("cached", len(texts)-len(missTexts)),
		zap.Int("computed", len(missTexts)),
	)

	return out, nil
}
