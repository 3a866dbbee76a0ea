package match

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/driver"
)

func doc() bson.M {
	return bson.M{
		"_id":   bson.ObjectIdHex("5f1b2c3d4e5f607182930a1b"),
		"f":     "John",
		"a":     42,
		"tags":  []any{"admin", "staff"},
		"addr":  bson.M{"city": "Paris", "zip": "75001"},
		"loc":   []any{1.0, 1.0},
		"items": []any{bson.M{"sku": "x", "qty": 2}, bson.M{"sku": "y", "qty": 7}},
	}
}

func mustMatch(t *testing.T, criteria bson.M) bool {
	t.Helper()
	ok, err := Matches(doc(), criteria)
	require.NoError(t, err)
	return ok
}

func TestMatches_Equality(t *testing.T) {
	assert.True(t, mustMatch(t, bson.M{"f": "John"}))
	assert.False(t, mustMatch(t, bson.M{"f": "Jane"}))
	assert.True(t, mustMatch(t, bson.M{"a": int64(42)}))
	assert.True(t, mustMatch(t, bson.M{"a": 42.0}))
	assert.True(t, mustMatch(t, bson.M{"tags": "staff"}))
	assert.True(t, mustMatch(t, bson.M{"addr.city": "Paris"}))
	assert.True(t, mustMatch(t, bson.M{"missing": nil}))
	assert.False(t, mustMatch(t, bson.M{"missing": "x"}))
}

func TestMatches_Comparison(t *testing.T) {
	assert.True(t, mustMatch(t, bson.M{"a": bson.M{"$gt": 18, "$lt": 65}}))
	assert.False(t, mustMatch(t, bson.M{"a": bson.M{"$gte": 43}}))
	assert.True(t, mustMatch(t, bson.M{"a": bson.M{"$lte": 42}}))
	assert.False(t, mustMatch(t, bson.M{"f": bson.M{"$gt": 1}}), "cross-kind comparison never matches")
	assert.True(t, mustMatch(t, bson.M{"a": bson.M{"$ne": 41}}))
}

func TestMatches_SetOperators(t *testing.T) {
	assert.True(t, mustMatch(t, bson.M{"f": bson.M{"$in": []string{"Jane", "John"}}}))
	assert.True(t, mustMatch(t, bson.M{"f": bson.M{"$nin": []string{"Jane"}}}))
	assert.True(t, mustMatch(t, bson.M{"tags": bson.M{"$all": []string{"staff", "admin"}}}))
	assert.False(t, mustMatch(t, bson.M{"tags": bson.M{"$all": []string{"staff", "root"}}}))
	assert.True(t, mustMatch(t, bson.M{"tags": bson.M{"$size": 2}}))
	assert.True(t, mustMatch(t, bson.M{"f": bson.M{"$exists": true}}))
	assert.True(t, mustMatch(t, bson.M{"nope": bson.M{"$exists": false}}))
}

func TestMatches_ElemMatch(t *testing.T) {
	assert.True(t, mustMatch(t, bson.M{"items": bson.M{"$elemMatch": bson.M{"sku": "y", "qty": bson.M{"$gt": 5}}}}))
	assert.False(t, mustMatch(t, bson.M{"items": bson.M{"$elemMatch": bson.M{"sku": "x", "qty": bson.M{"$gt": 5}}}}))
}

func TestMatches_Regex(t *testing.T) {
	assert.True(t, mustMatch(t, bson.M{"f": bson.RegEx{Pattern: "^jo", Options: "i"}}))
	assert.True(t, mustMatch(t, bson.M{"f": regexp.MustCompile("hn$")}))
	assert.False(t, mustMatch(t, bson.M{"f": bson.RegEx{Pattern: "^jo"}}))
	assert.True(t, mustMatch(t, bson.M{"f": bson.M{"$regex": "OHN", "$options": "i"}}))
}

func TestMatches_Logical(t *testing.T) {
	assert.True(t, mustMatch(t, bson.M{"$or": []any{bson.M{"f": "Jane"}, bson.M{"a": 42}}}))
	assert.False(t, mustMatch(t, bson.M{"$and": []any{bson.M{"f": "John"}, bson.M{"a": 1}}}))
	assert.True(t, mustMatch(t, bson.M{"$nor": []any{bson.M{"f": "Jane"}}}))
}

func TestMatches_Near(t *testing.T) {
	assert.True(t, mustMatch(t, bson.M{"loc": bson.M{"$near": []float64{0, 0}}}))
	assert.False(t, mustMatch(t, bson.M{"loc": bson.M{"$near": []float64{0, 0}, "$maxDistance": 1}}))
	assert.True(t, mustMatch(t, bson.M{"loc": bson.M{"$near": []float64{0, 0}, "$maxDistance": 2}}))
}

func TestMatches_UnsupportedOperator(t *testing.T) {
	_, err := Matches(doc(), bson.M{"f": bson.M{"$where": "x"}})
	var unsupported *UnsupportedOperatorError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "$where", unsupported.Operator)
}

func TestApply_Operators(t *testing.T) {
	out, err := Apply(doc(), bson.M{
		"$set":      bson.M{"f": "Johnny", "addr.city": "Lyon"},
		"$unset":    bson.M{"loc": 1},
		"$inc":      bson.M{"a": 1, "visits": 2},
		"$push":     bson.M{"tags": "ops"},
		"$addToSet": bson.M{"roles": bson.M{"$each": []any{"a", "a", "b"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Johnny", out["f"])
	assert.Equal(t, "Lyon", out["addr"].(bson.M)["city"])
	assert.NotContains(t, out, "loc")
	assert.Equal(t, 43, out["a"])
	assert.Equal(t, 2, out["visits"])
	assert.Equal(t, []any{"admin", "staff", "ops"}, out["tags"])
	assert.Equal(t, []any{"a", "b"}, out["roles"])

	assert.Equal(t, "John", doc()["f"])
}

func TestApply_Pull(t *testing.T) {
	out, err := Apply(doc(), bson.M{"$pull": bson.M{"tags": "admin", "items": bson.M{"qty": bson.M{"$gt": 5}}}})
	require.NoError(t, err)
	assert.Equal(t, []any{"staff"}, out["tags"])
	assert.Len(t, out["items"], 1)
}

func TestApply_ReplacementKeepsID(t *testing.T) {
	d := doc()
	out, err := Apply(d, bson.M{"f": "Other"})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"_id": d["_id"], "f": "Other"}, out)
}

func TestUpsert(t *testing.T) {
	out, err := Upsert(bson.M{"f": "Ann", "a": bson.M{"$gt": 3}}, bson.M{"$set": bson.M{"x": 1}, "$setOnInsert": bson.M{"y": 2}})
	require.NoError(t, err)
	assert.Equal(t, "Ann", out["f"])
	assert.Equal(t, 1, out["x"])
	assert.Equal(t, 2, out["y"])
	assert.NotContains(t, out, "a")
}

func TestSortAndWindow(t *testing.T) {
	docs := []bson.M{{"n": 3, "s": "b"}, {"n": 1, "s": "a"}, {"n": 2, "s": "a"}, {"s": "c"}}

	Sort(docs, []driver.SortKey{{Key: "s", Direction: 1}, {Key: "n", Direction: -1}})
	assert.Equal(t, []any{2, 1, 3, nil}, []any{docs[0]["n"], docs[1]["n"], docs[2]["n"], docs[3]["n"]})

	Sort(docs, []driver.SortKey{{Key: "n", Direction: 1}})
	assert.Nil(t, docs[0]["n"], "missing values sort first")

	assert.Len(t, Window(docs, 1, 2), 2)
	assert.Nil(t, Window(docs, 10, 0))
}

func TestProject(t *testing.T) {
	d := doc()

	inc := Project(d, bson.M{"f": 1, "addr.city": 1})
	assert.Equal(t, bson.M{"_id": d["_id"], "f": "John", "addr": bson.M{"city": "Paris"}}, inc)

	noID := Project(d, bson.M{"f": 1, "_id": 0})
	assert.Equal(t, bson.M{"f": "John"}, noID)

	exc := Project(d, bson.M{"tags": 0, "items": 0, "loc": 0, "addr": 0})
	assert.Equal(t, bson.M{"_id": d["_id"], "f": "John", "a": 42}, exc)

	idOnly := Project(d, bson.M{"_id": 1})
	assert.Equal(t, bson.M{"_id": d["_id"]}, idOnly)
}

func TestNearOrdering(t *testing.T) {
	docs := []bson.M{{"p": []any{5.0, 5.0}}, {"p": []any{1.0, 0.0}}, {"p": []any{3.0, 0.0}}}
	key, target, ok := NearTarget(bson.M{"p": bson.M{"$near": []float64{0, 0}}})
	require.True(t, ok)

	SortByDistance(docs, key, target)
	assert.Equal(t, []any{1.0, 0.0}, docs[0]["p"])
	assert.Equal(t, []any{5.0, 5.0}, docs[2]["p"])
}

func TestEqualAndCompare(t *testing.T) {
	now := time.Now()
	assert.True(t, Equal(now, now.UTC()))
	assert.True(t, Equal(bson.M{"a": 1}, map[string]any{"a": int64(1)}))
	assert.True(t, Equal(bson.Binary{Kind: 4, Data: []byte{1}}, bson.Binary{Kind: 4, Data: []byte{1}}))
	assert.False(t, Equal(bson.Binary{Kind: 4, Data: []byte{1}}, bson.Binary{Kind: 0, Data: []byte{1}}))
	assert.Equal(t, -1, Compare(nil, 0))
	assert.Equal(t, -1, Compare(1, "a"))
	assert.Equal(t, 1, Compare(2.5, 2))
}

func TestClone(t *testing.T) {
	src := bson.M{"nested": bson.M{"a": 1}}
	cp, err := Clone(src)
	require.NoError(t, err)

	cp["nested"].(bson.M)["a"] = 2
	assert.Equal(t, 1, src["nested"].(bson.M)["a"])
}
