package vector_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/internal/vector"
	"github.com/contract-intel/backend/internal/vector/memory"
	"github.com/contract-intel/backend/pkg/apperror"
)

type keywordEmbedder struct {
	err error
}

func (e *keywordEmbedder) Dimension() int { return 3 }

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		text = strings.ToLower(text)
		out[i] = []float32{
			float32(strings.Count(text, "liability")) + 0.01,
			float32(strings.Count(text, "termination")),
			float32(strings.Count(text, "payment")),
		}
	}
	return out, nil
}

func chunk(id, source, text string) models.Chunk {
	return models.Chunk{ID: id, Text: text, Metadata: map[string]string{models.MetadataSource: source}}
}

func TestIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("Should embed chunks and find them by text", func(t *testing.T) {
		idx := vector.NewIndex(&keywordEmbedder{}, memory.NewStore())
		require.NoError(t, idx.EnsureCollection(ctx))
		require.NoError(t, idx.Upsert(ctx, []models.Chunk{
			chunk("1", "a.pdf", "Liability is capped at fees paid."),
			chunk("2", "a.pdf", "Termination requires 30 days notice."),
		}))

		results, err := idx.Query(ctx, "termination rights", 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "2", results[0].ID)
	})

	t.Run("Should report embedding failures as upstream", func(t *testing.T) {
		idx := vector.NewIndex(&keywordEmbedder{err: errors.New("connection refused")}, memory.NewStore())

		err := idx.Upsert(ctx, []models.Chunk{chunk("1", "a.pdf", "text")})
		assert.True(t, apperror.Is(err, apperror.KindUpstream))

		_, err = idx.Query(ctx, "text", 4, nil)
		assert.True(t, apperror.Is(err, apperror.KindUpstream))
	})

	t.Run("Should ignore empty upserts", func(t *testing.T) {
		idx := vector.NewIndex(&keywordEmbedder{err: errors.New("unused")}, memory.NewStore())
		assert.NoError(t, idx.Upsert(ctx, nil))
	})
}
