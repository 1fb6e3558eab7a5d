package storage

import (
	"context"
	"testing"
	"time"

	"tasksync/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDriver(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	drv := NewRedisDriver(client, "test:")
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		in := payload{Name: "redis", Count: 5, Tags: []string{"x"}}
		require.NoError(t, drv.Set(ctx, "tasks/1", in))
		assert.True(t, s.Exists("test:tasks/1"))

		var out payload
		found, err := drv.Get(ctx, "tasks/1", &out)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, in, out)
	})

	t.Run("GetMissing", func(t *testing.T) {
		found, err := drv.Get(ctx, "nope", nil)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("TTL", func(t *testing.T) {
		require.NoError(t, drv.SetWithTTL(ctx, "ttl", "v", time.Minute))
		assert.Equal(t, time.Minute, s.TTL("test:ttl"))

		s.FastForward(time.Minute + time.Millisecond)
		has, err := drv.Has(ctx, "ttl")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("ZeroTTLIsAbsent", func(t *testing.T) {
		require.NoError(t, drv.Set(ctx, "zero", 1))
		require.NoError(t, drv.SetWithTTL(ctx, "zero", 1, 0))
		has, err := drv.Has(ctx, "zero")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("KeysBatchAndClear", func(t *testing.T) {
		require.NoError(t, s.Set("other:key", "untouched"))
		require.NoError(t, drv.SetMany(ctx, map[string]any{"b/1": 1, "b/2": 2}))

		keys, err := drv.Keys(ctx, "b/*")
		require.NoError(t, err)
		assert.Equal(t, []string{"b/1", "b/2"}, keys)

		got, err := drv.GetMany(ctx, []string{"b/1", "b/3"})
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.JSONEq(t, "1", string(got["b/1"]))

		require.NoError(t, drv.DeleteMany(ctx, []string{"b/1"}))
		keys, _ = drv.Keys(ctx, "b/*")
		assert.Equal(t, []string{"b/2"}, keys)

		require.NoError(t, drv.Clear(ctx))
		keys, _ = drv.Keys(ctx, "*")
		assert.Empty(t, keys)
		assert.True(t, s.Exists("other:key"))
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, drv.Ping(ctx))
	})

	t.Run("NilClient", func(t *testing.T) {
		nilDrv := NewRedisDriver(nil, "x:")
		_, err := nilDrv.Get(ctx, "k", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})
}

func TestNew_RedisDriver(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	drv, err := New(config.StorageConfig{Driver: "redis", Prefix: "app:"}, client, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &FailoverDriver{}, drv)
	require.NoError(t, drv.Set(context.Background(), "k", 1))
	assert.True(t, s.Exists("app:k"))

	_, err = New(config.StorageConfig{Driver: "redis"}, nil, nil, nil)
	assert.Error(t, err)
}
