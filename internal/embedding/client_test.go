package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contract-intel/backend/internal/cache/redis"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func newEmbeddingServer(t *testing.T, calls *atomic.Int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
			return
		}

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BAAI/bge-small-en-v1.5", req.Model)

		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i])), float32(i), 1},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string, batch int) *Client {
	return NewClient(Config{
		BaseURL:   url,
		Model:     "BAAI/bge-small-en-v1.5",
		Dimension: 3,
		BatchSize: batch,
		Timeout:   5 * time.Second,
	})
}

func TestClient_Embed(t *testing.T) {
	ctx := context.Background()

	t.Run("Should batch requests and keep input order", func(t *testing.T) {
		var calls atomic.Int32
		srv := newEmbeddingServer(t, &calls, http.StatusOK)
		c := newTestClient(srv.URL, 2)

		vectors, err := c.Embed(ctx, []string{"a", "bb", "ccc"})
		require.NoError(t, err)
		require.Len(t, vectors, 3)
		assert.Equal(t, []float32{1, 0, 1}, vectors[0])
		assert.Equal(t, []float32{2, 1, 1}, vectors[1])
		assert.Equal(t, []float32{3, 0, 1}, vectors[2])
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Should reject an unexpected dimension", func(t *testing.T) {
		var calls atomic.Int32
		srv := newEmbeddingServer(t, &calls, http.StatusOK)
		c := newTestClient(srv.URL, 8)
		c.dimension = 384

		_, err := c.Embed(ctx, []string{"a"})
		assert.ErrorContains(t, err, "dimension")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Should not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := newEmbeddingServer(t, &calls, http.StatusBadRequest)
		c := newTestClient(srv.URL, 8)

		_, err := c.Embed(ctx, []string{"a"})
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

type countingEmbedder struct {
	texts []string
}

func (e *countingEmbedder) Dimension() int { return 2 }

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cache, err := redis.NewClient(ctx, redis.Config{Addr: mr.Addr()})
	require.NoError(t, err)

	next := &countingEmbedder{}
	c := NewCachedEmbedder(next, cache, "bge", time.Hour)

	first, err := c.Embed(ctx, []string{"liability", "term"})
	require.NoError(t, err)

	second, err := c.Embed(ctx, []string{"term", "notice"})
	require.NoError(t, err)

	assert.Equal(t, []string{"liability", "term", "notice"}, next.texts)
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, []float32{6, 1}, second[1])
	assert.Equal(t, 2, c.Dimension())
}
