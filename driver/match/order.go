package match

import (
	"math"
	"sort"
	"strings"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/driver"
)

// Sort orders docs in place. Missing values sort first ascending.
func Sort(docs []bson.M, keys []driver.SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := Lookup(docs[i], k.Key)
			b, _ := Lookup(docs[j], k.Key)
			c := Compare(a, b)
			if k.Direction < 0 {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// NearTarget finds the first $near condition in criteria and returns its
// storage key and target point.
func NearTarget(criteria bson.M) (string, [2]float64, bool) {
	for key, cond := range criteria {
		if strings.HasPrefix(key, "$") {
			continue
		}
		ops, ok := operatorDoc(cond)
		if !ok {
			continue
		}
		if target, has := ops["$near"]; has {
			if p, ok := Point(target); ok {
				return key, p, true
			}
		}
	}
	return "", [2]float64{}, false
}

// SortByDistance orders docs by distance from target, nearest first.
func SortByDistance(docs []bson.M, key string, target [2]float64) {
	dist := func(d bson.M) float64 {
		v, _ := Lookup(d, key)
		p, ok := Point(v)
		if !ok {
			return math.Inf(1)
		}
		return Distance(p, target)
	}
	sort.SliceStable(docs, func(i, j int) bool { return dist(docs[i]) < dist(docs[j]) })
}

// Project applies a projection. Any truthy non-_id entry, or {_id: 1} on
// its own, selects inclusion mode; otherwise listed keys are excluded. _id
// is kept unless explicitly excluded.
func Project(doc bson.M, projection bson.M) bson.M {
	if len(projection) == 0 {
		return doc
	}

	include := len(projection) == 1 && truthy(projection["_id"])
	for k, v := range projection {
		if k != "_id" && truthy(v) {
			include = true
			break
		}
	}

	if !include {
		out := bson.M{}
		for k, v := range doc {
			out[k] = v
		}
		for k, v := range projection {
			if !truthy(v) {
				unsetPath(out, k)
			}
		}
		return out
	}

	out := bson.M{}
	for k, v := range projection {
		if k == "_id" || !truthy(v) {
			continue
		}
		if val, ok := Lookup(doc, k); ok {
			setPath(out, k, val)
		}
	}
	if v, has := projection["_id"]; !has || truthy(v) {
		if id, ok := doc["_id"]; ok {
			out["_id"] = id
		}
	}
	return out
}

// Window applies skip and limit. Zero limit means unbounded.
func Window(docs []bson.M, skip, limit int) []bson.M {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
