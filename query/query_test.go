package query

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/driver/memory"
	"github.com/goliatone/go-odm/keys"
)

func userSchema(t *testing.T, static bool) *keys.Registry {
	t.Helper()
	r := keys.NewRegistry("User", keys.WithStatic(static))
	for _, k := range []struct {
		name  string
		typ   keys.Type
		alias string
	}{
		{keys.IDKey, keys.TypeObjectID, ""},
		{"first_name", keys.TypeString, "f"},
		{"age", keys.TypeInt, "a"},
		{"tags", keys.TypeArray, "t"},
	} {
		_, err := r.Register(k.name, k.typ, keys.Options{Alias: k.alias})
		require.NoError(t, err)
	}
	return r
}

func seeded(t *testing.T) (*Query, []bson.ObjectId) {
	t.Helper()
	coll := memory.New().C("users")
	ctx := context.Background()

	var ids []bson.ObjectId
	for i, name := range []string{"ann", "bob", "cid", "dee", "eve"} {
		id := bson.NewObjectId()
		ids = append(ids, id)
		_, err := coll.Insert(ctx, bson.M{"_id": id, "f": name, "a": 20 + i, "t": []any{"x"}})
		require.NoError(t, err)
	}
	return New(coll, WithSchema(userSchema(t, false))), ids
}

func names(docs []driver.Doc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["f"].(string)
	}
	return out
}

func TestWhere_TranslatesKeys(t *testing.T) {
	q := New(nil, WithSchema(userSchema(t, false)))

	got := q.Where(criteria.M{"first_name": "John"}).Where(criteria.F("age").Gt().Is(100)).Criteria()
	want := bson.M{"f": "John", "a": bson.M{"$gt": 100}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected criteria (-want +got):\n%s", diff)
	}
}

func TestWhere_LaterKeyWins(t *testing.T) {
	q := New(nil).Where(criteria.M{"a": 1}).Where(criteria.M{"a": 2})
	assert.Equal(t, bson.M{"a": 2}, q.Criteria())
}

func TestWhere_CopyOnWrite(t *testing.T) {
	base := New(nil).Where(criteria.M{"a": 1})
	extended := base.Where(criteria.M{"b": 2}).Sort("a").Limit(3)

	assert.Equal(t, bson.M{"a": 1}, base.Criteria())
	assert.Empty(t, base.State().Sort)
	assert.Zero(t, base.State().Limit)
	assert.Equal(t, bson.M{"a": 1, "b": 2}, extended.Criteria())
}

func TestWhere_BadCriteriaDeferred(t *testing.T) {
	q := New(memory.New().C("x")).Where(42)
	require.Error(t, q.Err())

	_, err := q.All(context.Background())
	assert.ErrorIs(t, err, ErrArgument)
}

func TestProjection(t *testing.T) {
	q := New(nil, WithSchema(userSchema(t, false)))

	inc := q.Fields("first_name").Only("age", "first_name")
	assert.Equal(t, driver.Doc{"f": 1, "a": 1}, inc.State().Projection())

	exc := q.Ignore("tags")
	assert.Equal(t, driver.Doc{"t": 0}, exc.State().Projection())
	assert.True(t, exc.State().Partial())

	conflict := inc.Ignore("tags")
	var argErr *ArgumentError
	require.ErrorAs(t, conflict.Err(), &argErr)
	assert.Equal(t, "ignore", argErr.Op)

	assert.ErrorIs(t, exc.Fields("age").Err(), ErrArgument)
}

func TestSort(t *testing.T) {
	q := New(nil, WithSchema(userSchema(t, false)))

	s := q.Sort("age desc").Order(criteria.F("first_name").Asc()).State().Sort
	assert.Equal(t, []criteria.SortField{{Field: "a", Direction: -1}, {Field: "f", Direction: 1}}, s)

	resorted := q.Sort("age desc", "first_name").Sort("age").State().Sort
	assert.Equal(t, []criteria.SortField{{Field: "f", Direction: 1}, {Field: "a", Direction: 1}}, resorted)

	rev := q.Sort("age desc", "first_name").Reverse().State().Sort
	assert.Equal(t, []criteria.SortField{{Field: "a", Direction: 1}, {Field: "f", Direction: -1}}, rev)

	assert.ErrorIs(t, q.Sort("age up").Err(), ErrArgument)
}

func TestPaginate(t *testing.T) {
	q, _ := seeded(t)
	ctx := context.Background()

	docs, err := q.Sort("age").Paginate(2, 2).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cid", "dee"}, names(docs))

	page, err := q.Sort("age").Paginate(2, 3).Page(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"eve"}, names(page.Items))
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 3, page.CurrentPage)

	assert.ErrorIs(t, q.Paginate(0, 1).Err(), ErrArgument)
	assert.ErrorIs(t, q.Paginate(10, 0).Err(), ErrArgument)
}

func TestFirstLast(t *testing.T) {
	q, _ := seeded(t)
	ctx := context.Background()

	first, err := q.Sort("age desc").First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "eve", first["f"])

	last, err := q.Sort("age desc").Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ann", last["f"])

	unsorted, err := q.Last(ctx)
	require.NoError(t, err)
	assert.NotNil(t, unsorted, "last without sort falls back to _id order")

	none, err := q.Where(criteria.M{"first_name": "zed"}).First(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCountExists(t *testing.T) {
	q, _ := seeded(t)
	ctx := context.Background()

	n, err := q.Where(criteria.F("age").Gte().Is(22)).Limit(1).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "count ignores the window")

	ok, err := q.Where(criteria.M{"first_name": "bob"}).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Ignore("tags").Where(criteria.M{"first_name": "bob"}).Exist(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	empty, err := q.Where(criteria.M{"first_name": "zed"}).Empty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestIDs_IgnoresWindowAndProjection(t *testing.T) {
	q, ids := seeded(t)
	ctx := context.Background()
	adults := q.Where(criteria.F("age").Gte().Is(20))

	got, err := adults.Sort("age").Limit(1).Skip(1).IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{ids[0], ids[1], ids[2], ids[3], ids[4]}, got, "ids name what DeleteAll removes")

	got, err = adults.Ignore("tags").Sort("age").IDs(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = adults.Fields("first_name").Sort("age").IDs(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	ok, err := adults.Fields("first_name").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = adults.Fields("first_name").Ignore("tags").Exists(ctx)
	assert.Error(t, err, "builder errors still surface")
}

func TestFindIDs_OrderAndOmission(t *testing.T) {
	q, ids := seeded(t)
	ctx := context.Background()
	missing := bson.NewObjectId()

	docs, err := q.FindIDs(ctx, ids[3].Hex(), missing, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"dee", "ann"}, names(docs))

	docs, err = q.FindIDs(ctx)
	require.NoError(t, err)
	assert.Nil(t, docs)
}

func TestEach_RestartableAndBatched(t *testing.T) {
	coll := memory.New().C("users")
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, err := coll.Insert(ctx, bson.M{"n": i})
		require.NoError(t, err)
	}

	q := New(coll, WithBatchSize(3)).Sort("n")
	seq := q.Each(ctx)

	collect := func() []any {
		var out []any
		for d, err := range seq {
			require.NoError(t, err)
			out = append(out, d["n"])
		}
		return out
	}

	first := collect()
	assert.Equal(t, []any{0, 1, 2, 3, 4, 5, 6}, first)
	assert.Equal(t, first, collect(), "ranging again re-issues the query")

	var limited []any
	for d, err := range q.Skip(2).Limit(4).Each(ctx) {
		require.NoError(t, err)
		limited = append(limited, d["n"])
	}
	assert.Equal(t, []any{2, 3, 4, 5}, limited)

	var stopped int
	for range q.Each(ctx) {
		stopped++
		if stopped == 2 {
			break
		}
	}
	assert.Equal(t, 2, stopped)
}

func TestDeleteAll(t *testing.T) {
	q, _ := seeded(t)
	ctx := context.Background()

	n, err := q.Where(criteria.F("age").Lt().Is(22)).DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, left)
}

func TestUpdateHelpers(t *testing.T) {
	q, ids := seeded(t)
	ctx := context.Background()
	one := q.Where(criteria.M{"id": ids[0].Hex()})

	_, err := one.Set(ctx, map[string]any{"first_name": "anna", "age": "40"})
	require.NoError(t, err)
	_, err = one.Increment(ctx, map[string]any{"age": 2})
	require.NoError(t, err)
	_, err = one.Decrement(ctx, map[string]any{"age": 1})
	require.NoError(t, err)
	_, err = one.Push(ctx, map[string]any{"tags": "y"})
	require.NoError(t, err)
	_, err = one.AddToSet(ctx, map[string]any{"tags": "y"})
	require.NoError(t, err)
	_, err = one.PushAll(ctx, "tags", "z", "w")
	require.NoError(t, err)
	_, err = one.Pull(ctx, map[string]any{"tags": "x"})
	require.NoError(t, err)

	doc, err := one.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "anna", doc["f"])
	assert.Equal(t, 41, doc["a"], "string cast to int before storage")
	assert.Equal(t, []any{"y", "z", "w"}, doc["t"])

	_, err = one.Unset(ctx, "tags")
	require.NoError(t, err)
	doc, err = one.First(ctx)
	require.NoError(t, err)
	assert.NotContains(t, doc, "t")

	res, err := q.Set(ctx, map[string]any{"flag": true})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Matched, "updates apply to every match")

	_, err = q.Set(ctx, nil)
	assert.ErrorIs(t, err, ErrArgument)
}

func TestSet_StaticKeys(t *testing.T) {
	coll := memory.New().C("users")
	q := New(coll, WithSchema(userSchema(t, true)))

	_, err := q.Set(context.Background(), map[string]any{"nickname": "x"})
	var missing *keys.MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "nickname", missing.Key)
	assert.True(t, errors.Is(err, keys.ErrMissingKey))

	_, err = q.Set(context.Background(), map[string]any{"first_name": "x"})
	assert.NoError(t, err)
}

func TestRawUpdate(t *testing.T) {
	q, ids := seeded(t)
	ctx := context.Background()
	one := q.Where(criteria.M{"_id": ids[1]})

	_, err := one.Update(ctx, map[string]any{"$set": map[string]any{"first_name": "robert"}}, driver.UpdateOptions{})
	require.NoError(t, err)

	doc, err := one.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "robert", doc["f"])

	_, err = one.Update(ctx, map[string]any{"$set": 1}, driver.UpdateOptions{})
	assert.ErrorIs(t, err, ErrArgument)
}

func TestMerge(t *testing.T) {
	r := userSchema(t, false)
	a := New(nil, WithSchema(r)).Where(criteria.M{"first_name": "ann"}).Sort("age")
	b := New(nil, WithSchema(r)).Where(criteria.M{"age": 3}).Sort("first_name desc").Limit(5)

	m := a.Merge(b)
	assert.Equal(t, bson.M{"f": "ann", "a": 3}, m.Criteria())
	assert.Equal(t, []criteria.SortField{{Field: "a", Direction: 1}, {Field: "f", Direction: -1}}, m.State().Sort)
	assert.Equal(t, 5, m.State().Limit)

	overlap := a.Merge(New(nil, WithSchema(r)).Where(criteria.M{"first_name": "bob"}))
	assert.Equal(t, bson.M{"f": "bob"}, overlap.Criteria())

	conflict := a.Fields("age").Merge(New(nil).Ignore("tags"))
	assert.ErrorIs(t, conflict.Err(), ErrArgument)
}
