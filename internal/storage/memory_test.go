package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDriver(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	drv := NewMemoryDriver().WithClock(clock.Now)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		in := payload{Name: "mem", Count: 1}
		require.NoError(t, drv.Set(ctx, "p", in))

		var out payload
		found, err := drv.Get(ctx, "p", &out)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, in, out)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, drv.SetWithTTL(ctx, "ttl", 1, time.Second))
		clock.Advance(time.Second)
		has, err := drv.Has(ctx, "ttl")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("KeysAndClear", func(t *testing.T) {
		require.NoError(t, drv.SetMany(ctx, map[string]any{"q/1": 1, "q/2": 2}))
		keys, err := drv.Keys(ctx, "q/*")
		require.NoError(t, err)
		assert.Equal(t, []string{"q/1", "q/2"}, keys)

		require.NoError(t, drv.Clear(ctx))
		keys, _ = drv.Keys(ctx, "*")
		assert.Empty(t, keys)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		_, err := drv.Get(ctx, "", nil)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}
