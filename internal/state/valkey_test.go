package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupValkey(t *testing.T) (*ValkeyStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewValkeyStore(ValkeyOptions{Address: mr.Addr(), OpTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestValkeyStore_Operations(t *testing.T) {
	store, mr := setupValkey(t)
	ctx := context.Background()

	t.Run("set with expiry and exists", func(t *testing.T) {
		ok, err := store.Exists(ctx, "marker")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.SetWithExpiry(ctx, "marker", "1", 10*time.Second))

		ok, err = store.Exists(ctx, "marker")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 10*time.Second, mr.TTL("marker"))

		mr.FastForward(11 * time.Second)
		ok, err = store.Exists(ctx, "marker")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("add members is idempotent", func(t *testing.T) {
		require.NoError(t, store.AddMembers(ctx, "ids", "1", "2"))
		require.NoError(t, store.AddMembers(ctx, "ids", "2", "3"))
		require.NoError(t, store.AddMembers(ctx, "ids"))

		members, err := store.Members(ctx, "ids")
		require.NoError(t, err)
		assert.Equal(t, map[string]struct{}{"1": {}, "2": {}, "3": {}}, members)
	})

	t.Run("members of missing set is empty", func(t *testing.T) {
		members, err := store.Members(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "ids", "marker"))
		assert.False(t, mr.Exists("ids"))
		require.NoError(t, store.Delete(ctx))
	})

	t.Run("reseed replaces set and sets marker", func(t *testing.T) {
		require.NoError(t, store.AddMembers(ctx, "ids", "old"))
		require.NoError(t, store.Reseed(ctx, "ids", "marker", []string{"a", "b"}, time.Minute))

		members, err := mr.SMembers("ids")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, members)
		assert.True(t, mr.Exists("marker"))
		assert.Equal(t, time.Minute, mr.TTL("marker"))
	})

	t.Run("reseed with no ids still sets marker", func(t *testing.T) {
		require.NoError(t, store.Reseed(ctx, "ids", "marker", nil, time.Minute))
		assert.False(t, mr.Exists("ids"))
		assert.True(t, mr.Exists("marker"))
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})
}

func TestValkeyStore_ErrorsWrapUnavailable(t *testing.T) {
	store, mr := setupValkey(t)
	ctx := context.Background()
	mr.SetError("ERR injected failure")

	_, err := store.Exists(ctx, "marker")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.Members(ctx, "ids")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.ErrorIs(t, store.AddMembers(ctx, "ids", "1"), ErrStoreUnavailable)
	assert.ErrorIs(t, store.SetWithExpiry(ctx, "marker", "1", time.Second), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete(ctx, "marker"), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Reseed(ctx, "ids", "marker", []string{"1"}, time.Second), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreUnavailable)
}

func TestNewValkeyStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewValkeyStore(ValkeyOptions{Address: addr})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewValkeyStoreFromClient_DefaultTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewValkeyStoreFromClient(rdb, 0)
	assert.Equal(t, 2*time.Second, store.opTimeout)
	require.NoError(t, store.Ping(context.Background()))
}
