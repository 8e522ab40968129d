package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	c, err := NewClient(ctx, Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	t.Run("Should miss unknown keys", func(t *testing.T) {
		_, ok, err := c.GetEmbedding(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should round trip embeddings with a ttl", func(t *testing.T) {
		require.NoError(t, c.SetEmbedding(ctx, "abc", []float32{0.5, -1}, time.Minute))

		got, ok, err := c.GetEmbedding(ctx, "abc")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []float32{0.5, -1}, got)

		mr.FastForward(2 * time.Minute)
		_, ok, err = c.GetEmbedding(ctx, "abc")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should fail to connect to a closed server", func(t *testing.T) {
		other := miniredis.RunT(t)
		addr := other.Addr()
		other.Close()

		_, err := NewClient(ctx, Config{Addr: addr})
		assert.Error(t, err)
	})
}
