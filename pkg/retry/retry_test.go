package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestDo(t *testing.T) {
	t.Run("Should retry until success", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Should return the last error after max attempts", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func(context.Context) error {
			calls++
			return errors.New("still down")
		})
		assert.EqualError(t, err, "still down")
		assert.Equal(t, 3, calls)
	})

	t.Run("Should stop on permanent errors", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("bad request")
		err := Do(context.Background(), fastConfig(), func(context.Context) error {
			calls++
			return Permanent(sentinel)
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should honour the retryable predicate", func(t *testing.T) {
		cfg := fastConfig()
		cfg.Retryable = func(error) bool { return false }
		calls := 0
		_ = Do(context.Background(), cfg, func(context.Context) error {
			calls++
			return errors.New("nope")
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("Should not retry a cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, calls)
	})
}

func TestDoWithResult(t *testing.T) {
	value, err := DoWithResult(context.Background(), fastConfig(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}
