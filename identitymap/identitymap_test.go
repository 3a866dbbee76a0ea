package identitymap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/cache"
)

type user struct {
	ID   bson.ObjectId
	Name string
}

func newMap(t *testing.T, opts ...Option) *Map {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	return m
}

func TestNew_DefaultsDisabled(t *testing.T) {
	m := newMap(t)
	assert.False(t, m.Enabled())
	assert.NotNil(t, m.Repository())

	m = newMap(t, WithEnabled(true))
	assert.True(t, m.Enabled())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(WithConfig(cache.Config{}))
	assert.Error(t, err)
}

func TestGetPut_OnlyWhenEnabled(t *testing.T) {
	ctx := context.Background()
	m := newMap(t)
	id := bson.NewObjectId()
	u := &user{ID: id, Name: "ann"}

	require.NoError(t, m.Put(ctx, "User", id, u))
	_, ok := m.Get(ctx, "User", id)
	assert.False(t, ok, "disabled map must not store")
	assert.Equal(t, 0, m.Repository().Len())

	m.SetEnabled(true)
	require.NoError(t, m.Put(ctx, "User", id, u))
	got, ok := m.Get(ctx, "User", id)
	require.True(t, ok)
	assert.Same(t, u, got.(*user))

	// hex string and ObjectId address the same entry
	got, ok = m.Get(ctx, "User", id.Hex())
	require.True(t, ok)
	assert.Same(t, u, got.(*user))

	m.SetEnabled(false)
	_, ok = m.Get(ctx, "User", id)
	assert.False(t, ok)
}

func TestRemove_RunsWhileDisabled(t *testing.T) {
	ctx := context.Background()
	m := newMap(t, WithEnabled(true))
	id := bson.NewObjectId()
	require.NoError(t, m.Put(ctx, "User", id, &user{ID: id}))

	m.SetEnabled(false)
	require.NoError(t, m.Remove(ctx, "User", id))

	m.SetEnabled(true)
	_, ok := m.Get(ctx, "User", id)
	assert.False(t, ok)
}

func TestRemoveAllAndClearType(t *testing.T) {
	ctx := context.Background()
	m := newMap(t, WithEnabled(true))
	a, b, c := bson.NewObjectId(), bson.NewObjectId(), bson.NewObjectId()
	for _, id := range []bson.ObjectId{a, b, c} {
		require.NoError(t, m.Put(ctx, "User", id, &user{ID: id}))
	}
	require.NoError(t, m.Put(ctx, "Post", a, &user{ID: a}))

	require.NoError(t, m.RemoveAll(ctx, "User", a, b))
	_, ok := m.Get(ctx, "User", a)
	assert.False(t, ok)
	_, ok = m.Get(ctx, "User", c)
	assert.True(t, ok)

	require.NoError(t, m.ClearType(ctx, "User"))
	_, ok = m.Get(ctx, "User", c)
	assert.False(t, ok)
	_, ok = m.Get(ctx, "Post", a)
	assert.True(t, ok, "other types survive")
}

func TestUseWithout_RestoreState(t *testing.T) {
	m := newMap(t)

	err := m.Use(func() error {
		assert.True(t, m.Enabled())
		return m.Without(func() error {
			assert.False(t, m.Enabled())
			return nil
		})
	})
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	boom := errors.New("boom")
	err = m.Use(func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, m.Enabled())

	m.SetEnabled(true)
	assert.Panics(t, func() {
		_ = m.Without(func() error { panic("boom") })
	})
	assert.True(t, m.Enabled(), "state restored after panic")
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	m := newMap(t)
	id := bson.NewObjectId()

	calls := 0
	load := func(ctx context.Context) (*user, error) {
		calls++
		return &user{ID: id, Name: "ann"}, nil
	}

	a, err := Fetch(ctx, m, "User", id, load)
	require.NoError(t, err)
	b, err := Fetch(ctx, m, "User", id, load)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, a, b)
	assert.Equal(t, 2, calls)

	require.NoError(t, m.Use(func() error {
		a, err := Fetch(ctx, m, "User", id, load)
		require.NoError(t, err)
		b, err := Fetch(ctx, m, "User", id, load)
		require.NoError(t, err)
		assert.Same(t, a, b)
		return nil
	}))
	assert.Equal(t, 3, calls)
}

func TestFetch_NilNotMapped(t *testing.T) {
	ctx := context.Background()
	m := newMap(t, WithEnabled(true))

	got, err := Fetch(ctx, m, "User", "missing", func(ctx context.Context) (*user, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, m.Repository().Len())
}

func TestCapacity_NeverEvicts(t *testing.T) {
	ctx := context.Background()
	const capacity = 200
	m := newMap(t, WithEnabled(true), WithConfig(cache.Config{Capacity: capacity, NumShards: 16}))

	ids := make([]bson.ObjectId, capacity)
	users := make([]*user, capacity)
	for i := range ids {
		ids[i] = bson.NewObjectId()
		users[i] = &user{ID: ids[i]}
		require.NoError(t, m.Put(ctx, "User", ids[i], users[i]))
	}
	for i, id := range ids {
		got, ok := m.Get(ctx, "User", id)
		require.True(t, ok, "entry %d evicted", i)
		assert.Same(t, users[i], got.(*user))
	}

	extra := bson.NewObjectId()
	err := m.Put(ctx, "User", extra, &user{ID: extra})
	assert.ErrorIs(t, err, cache.ErrCapacityExceeded)

	_, err = Fetch(ctx, m, "User", extra, func(ctx context.Context) (*user, error) {
		return &user{ID: extra}, nil
	})
	assert.ErrorIs(t, err, cache.ErrCapacityExceeded)
	assert.Equal(t, capacity, m.Repository().Len())

	replacement := &user{ID: ids[0]}
	require.NoError(t, m.Put(ctx, "User", ids[0], replacement), "replacing a mapped id needs no room")

	require.NoError(t, m.Remove(ctx, "User", ids[1]))
	require.NoError(t, m.Put(ctx, "User", extra, &user{ID: extra}))
	_, ok := m.Get(ctx, "User", extra)
	assert.True(t, ok)
}

func TestNilMap(t *testing.T) {
	ctx := context.Background()
	var m *Map

	assert.False(t, m.Enabled())
	m.SetEnabled(true)
	assert.False(t, m.Enabled())
	assert.NoError(t, m.Put(ctx, "User", 1, &user{}))
	assert.NoError(t, m.Remove(ctx, "User", 1))
	assert.NoError(t, m.Clear(ctx))
	assert.Equal(t, "User:1", m.Key("User", 1))

	ran := false
	assert.NoError(t, m.Use(func() error { ran = true; return nil }))
	assert.True(t, ran)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	m := newMap(t)
	got, ok := FromContext(WithContext(context.Background(), m))
	require.True(t, ok)
	assert.Same(t, m, got)
}

func TestMiddleware(t *testing.T) {
	m := newMap(t)
	ctx := context.Background()

	var seen *Map
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		assert.True(t, m.Enabled())
		assert.NoError(t, m.Put(r.Context(), "User", 1, &user{Name: "ann"}))
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Same(t, m, seen)
	assert.False(t, m.Enabled())
	assert.Equal(t, 0, m.Repository().Len())

	m.SetEnabled(true)
	_, ok := m.Get(ctx, "User", 1)
	assert.False(t, ok)
}
