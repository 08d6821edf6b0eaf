package redisstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionkeeper/storage"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisDriver(t *testing.T) {
	ctx := t.Context()
	mr, rdb := newTestRedis(t)
	d := NewDriver(rdb, "sk", "persistent")

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, d.Put(ctx, "auth_token", []byte("tok")))
		got, err := d.Get(ctx, "auth_token")
		require.NoError(t, err)
		assert.Equal(t, "tok", string(got))
		assert.True(t, mr.Exists("sk:persistent:auth_token"))
		assert.Equal(t, 0, int(mr.TTL("sk:persistent:auth_token")))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := d.Get(ctx, "nonexistent")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		require.NoError(t, d.Delete(ctx, "auth_token"))
		require.NoError(t, d.Delete(ctx, "auth_token"))
		_, err := d.Get(ctx, "auth_token")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ClearOnlyOwnNamespace", func(t *testing.T) {
		other := NewDriver(rdb, "sk", "volatile")
		require.NoError(t, other.Put(ctx, "keep", []byte("1")))
		for i := 0; i < 250; i++ {
			require.NoError(t, d.Put(ctx, fmt.Sprintf("k%03d", i), []byte("x")))
		}
		require.NoError(t, d.Clear(ctx))

		keys := mr.Keys()
		assert.Equal(t, []string{"sk:volatile:keep"}, keys)
	})
}

func TestRedisDriverUnavailable(t *testing.T) {
	ctx := t.Context()
	mr, rdb := newTestRedis(t)
	d := NewDriver(rdb, "sk", "persistent")
	mr.Close()

	_, err := d.Get(ctx, "k")
	assert.True(t, errors.Is(err, storage.ErrUnavailable), "got %v", err)
	assert.ErrorIs(t, d.Put(ctx, "k", []byte("v")), storage.ErrUnavailable)
	assert.ErrorIs(t, d.Delete(ctx, "k"), storage.ErrUnavailable)
}

func TestNewDriverFromAddr(t *testing.T) {
	ctx := t.Context()
	mr := miniredis.RunT(t)

	d, err := NewDriverFromAddr(ctx, mr.Addr(), "sk", "persistent")
	require.NoError(t, err)
	require.NoError(t, d.Put(ctx, "k", []byte("v")))
	require.NoError(t, d.Close())

	_, err = NewDriverFromAddr(ctx, "127.0.0.1:1", "sk", "persistent")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
