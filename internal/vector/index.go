package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

type Record struct {
	Chunk     models.Chunk
	Embedding []float32
}

type Store interface {
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error)
	Close() error
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Index pairs an embedder with a store so callers deal in text only.
type Index struct {
	embedder Embedder
	store    Store
}

func NewIndex(embedder Embedder, store Store) *Index {
	return &Index{embedder: embedder, store: store}
}

func (i *Index) EnsureCollection(ctx context.Context) error {
	if err := i.store.EnsureCollection(ctx, i.embedder.Dimension()); err != nil {
		return apperror.Upstream("vector.EnsureCollection", err)
	}
	return nil
}

func (i *Index) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for j, chunk := range chunks {
		texts[j] = chunk.Text
	}

	embeddings, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return apperror.Upstream("vector.Upsert", fmt.Errorf("failed to embed chunks: %w", err))
	}
	if len(embeddings) != len(chunks) {
		return apperror.Newf(apperror.KindUpstream, "vector.Upsert",
			"embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	records := make([]Record, len(chunks))
	for j, chunk := range chunks {
		records[j] = Record{Chunk: chunk, Embedding: embeddings[j]}
	}

	if err := i.store.Upsert(ctx, records); err != nil {
		return apperror.Upstream("vector.Upsert", fmt.Errorf("failed to write chunks: %w", err))
	}

	logger.Debug("Chunks indexed",
		zap.String("source", chunks[0].Source()),
		zap.Int("count", len(chunks)),
	)

	return nil
}

func (i *Index) Query(ctx context.Context, text string, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	embeddings, err := i.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, apperror.Upstream("vector.Query", fmt.Errorf("failed to embed query: %w", err))
	}
	if len(embeddings) != 1 {
		return nil, apperror.Newf(apperror.KindUpstream, "vector.Query", "expected one query embedding, got %d", len(embeddings))
	}

	results, err := i.store.Search(ctx, embeddings[0], k, filter)
	if err != nil {
		return nil, apperror.Upstream("vector.Query", fmt.Errorf("failed to search: %w", err))
	}

	return results, nil
}

func (i *Index) Close() error {
	return i.store.Close()
}
