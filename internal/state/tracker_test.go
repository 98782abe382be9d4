package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xbk-pusher/internal/feed"
)

func makeItems(ids ...string) []feed.Item {
	out := make([]feed.Item, len(ids))
	for i, id := range ids {
		out[i] = feed.Item{ID: feed.ID(id), Title: "item " + id}
	}
	return out
}

func idsOf(items []feed.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID.String()
	}
	return out
}

func memberList(t *testing.T, s Store) []string {
	t.Helper()
	m, err := s.Members(context.Background(), DefaultSetKey)
	require.NoError(t, err)
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// stores runs fn against both store implementations.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("valkey", func(t *testing.T) {
		store, _ := setupValkey(t)
		fn(t, store)
	})
}

func TestTracker_ColdStartReturnsEverything(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tr := NewTracker(s, TrackerOptions{})

		batch, err := tr.Filter(ctx, makeItems("1", "2", "3"))
		require.NoError(t, err)
		assert.True(t, batch.Reseeded)
		assert.Equal(t, []string{"1", "2", "3"}, idsOf(batch.Items))
		assert.ElementsMatch(t, []string{"1", "2", "3"}, memberList(t, s))

		alive, err := s.Exists(ctx, DefaultMarkerKey)
		require.NoError(t, err)
		assert.True(t, alive)
	})
}

func TestTracker_WarmReturnsOnlyUnseen(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tr := NewTracker(s, TrackerOptions{})

		_, err := tr.FilterNew(ctx, makeItems("1", "2", "3"))
		require.NoError(t, err)

		batch, err := tr.Filter(ctx, makeItems("5", "2", "3", "4"))
		require.NoError(t, err)
		assert.False(t, batch.Reseeded)
		assert.Equal(t, []string{"5", "4"}, idsOf(batch.Items))
		assert.ElementsMatch(t, []string{"1", "2", "3", "4", "5"}, memberList(t, s))
	})
}

func TestTracker_Idempotent(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tr := NewTracker(s, TrackerOptions{})

		// Prime the window so both calls below are warm.
		_, err := tr.FilterNew(ctx, nil)
		require.NoError(t, err)

		first, err := tr.FilterNew(ctx, makeItems("7", "8"))
		require.NoError(t, err)
		assert.Equal(t, []string{"7", "8"}, idsOf(first))

		second, err := tr.FilterNew(ctx, makeItems("7", "8"))
		require.NoError(t, err)
		assert.Empty(t, second)
	})
}

func TestTracker_ExpiredMarkerReseeds(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tr := NewTracker(s, TrackerOptions{})

		_, err := tr.FilterNew(ctx, makeItems("1", "2"))
		require.NoError(t, err)

		// Marker gone, stale set left behind.
		require.NoError(t, s.Delete(ctx, DefaultMarkerKey))

		batch, err := tr.Filter(ctx, makeItems("2", "3"))
		require.NoError(t, err)
		assert.True(t, batch.Reseeded)
		assert.Equal(t, []string{"2", "3"}, idsOf(batch.Items))
		assert.ElementsMatch(t, []string{"2", "3"}, memberList(t, s))
	})
}

func TestTracker_MarkerTTLElapses(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewValkeyStore(ValkeyOptions{Address: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	tr := NewTracker(store, TrackerOptions{MarkerKey: "m", SetKey: "s", TTL: 30 * time.Second})

	_, err = tr.FilterNew(ctx, makeItems("1"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("m"))
	assert.Equal(t, time.Duration(0), mr.TTL("s"))

	got, err := tr.FilterNew(ctx, makeItems("1"))
	require.NoError(t, err)
	assert.Empty(t, got)

	mr.FastForward(31 * time.Second)

	got, err = tr.FilterNew(ctx, makeItems("1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, idsOf(got))
}

func TestTracker_MemoryClockExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return now })

	ctx := context.Background()
	tr := NewTracker(store, TrackerOptions{TTL: time.Minute})

	_, err := tr.FilterNew(ctx, makeItems("1"))
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	got, err := tr.FilterNew(ctx, makeItems("1"))
	require.NoError(t, err)
	assert.Empty(t, got)

	now = now.Add(time.Second)
	batch, err := tr.Filter(ctx, makeItems("1"))
	require.NoError(t, err)
	assert.True(t, batch.Reseeded)
}

func TestTracker_DuplicatesAndEmptyIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr := NewTracker(store, TrackerOptions{})

	batch, err := tr.Filter(ctx, makeItems("1", "", "1", "2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, idsOf(batch.Items))

	batch, err = tr.Filter(ctx, makeItems("3", "3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, idsOf(batch.Items))
}

func TestTracker_NumericAndStringIDsAgree(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore(), TrackerOptions{})

	numeric, err := feed.NormalizeID(42)
	require.NoError(t, err)
	str, err := feed.NormalizeID("42")
	require.NoError(t, err)

	_, err = tr.FilterNew(ctx, []feed.Item{{ID: numeric}})
	require.NoError(t, err)

	got, err := tr.FilterNew(ctx, []feed.Item{{ID: str}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTracker_LargeNumericIDsStayDistinct(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tr := NewTracker(s, TrackerOptions{})

		first, err := feed.NormalizeID(json.Number("12345678901234567890"))
		require.NoError(t, err)
		second, err := feed.NormalizeID(json.Number("12345678901234567891"))
		require.NoError(t, err)

		_, err = tr.FilterNew(ctx, []feed.Item{{ID: first}})
		require.NoError(t, err)

		got, err := tr.FilterNew(ctx, []feed.Item{{ID: first}, {ID: second}})
		require.NoError(t, err)
		assert.Equal(t, []string{"12345678901234567891"}, idsOf(got))
	})
}

func TestTracker_Reset(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tr := NewTracker(s, TrackerOptions{})

		_, err := tr.FilterNew(ctx, makeItems("1"))
		require.NoError(t, err)
		require.NoError(t, tr.Reset(ctx))

		alive, err := s.Exists(ctx, DefaultMarkerKey)
		require.NoError(t, err)
		assert.False(t, alive)
		set, err := s.Exists(ctx, DefaultSetKey)
		require.NoError(t, err)
		assert.False(t, set)
	})
}

type failingStore struct {
	Store
	failOn string
}

var errBoom = errors.New("connection refused")

func (f *failingStore) Exists(ctx context.Context, key string) (bool, error) {
	if f.failOn == "exists" {
		return false, errors.Join(ErrStoreUnavailable, errBoom)
	}
	return f.Store.Exists(ctx, key)
}

func (f *failingStore) Members(ctx context.Context, key string) (map[string]struct{}, error) {
	if f.failOn == "members" {
		return nil, errors.Join(ErrStoreUnavailable, errBoom)
	}
	return f.Store.Members(ctx, key)
}

func (f *failingStore) AddMembers(ctx context.Context, key string, ids ...string) error {
	if f.failOn == "add" {
		return errors.Join(ErrStoreUnavailable, errBoom)
	}
	return f.Store.AddMembers(ctx, key, ids...)
}

func (f *failingStore) Reseed(ctx context.Context, setKey, markerKey string, ids []string, ttl time.Duration) error {
	if f.failOn == "reseed" {
		return errors.Join(ErrStoreUnavailable, errBoom)
	}
	return f.Store.Reseed(ctx, setKey, markerKey, ids, ttl)
}

func TestTracker_StoreFailureFailsClosed(t *testing.T) {
	for _, op := range []string{"exists", "members", "add", "reseed"} {
		t.Run(op, func(t *testing.T) {
			ctx := context.Background()
			inner := NewMemoryStore()
			if op != "reseed" {
				// Warm window so the members/add path is reached.
				require.NoError(t, inner.Reseed(ctx, DefaultSetKey, DefaultMarkerKey, []string{"1"}, time.Minute))
			}
			tr := NewTracker(&failingStore{Store: inner, failOn: op}, TrackerOptions{})

			got, err := tr.FilterNew(ctx, makeItems("1", "2"))
			require.Error(t, err)
			assert.True(t, IsUnavailable(err))
			assert.Empty(t, got)
		})
	}
}

func TestTracker_UnreachableValkey(t *testing.T) {
	store, mr := setupValkey(t)
	mr.Close()

	tr := NewTracker(store, TrackerOptions{})
	got, err := tr.FilterNew(context.Background(), makeItems("1"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, got)
}
