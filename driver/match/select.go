package match

import (
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/driver"
)

// Select runs a find request over docs, which the caller owns. Without an
// explicit sort a $near condition orders results by distance.
func Select(docs []bson.M, req driver.FindRequest) ([]bson.M, error) {
	var out []bson.M
	for _, d := range docs {
		ok, err := Matches(d, req.Criteria)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}

	if len(req.Sort) > 0 {
		Sort(out, req.Sort)
	} else if key, target, ok := NearTarget(req.Criteria); ok {
		SortByDistance(out, key, target)
	}

	out = Window(out, req.Skip, req.Limit)

	if len(req.Projection) > 0 {
		for i, d := range out {
			out[i] = Project(d, req.Projection)
		}
	}
	return out, nil
}

// CheckUnique returns a *driver.DuplicateKeyError when candidate collides
// with any document in existing on a unique index. Documents whose _id
// equals the candidate's are ignored.
func CheckUnique(collection string, existing []bson.M, candidate bson.M, indexes []driver.IndexInfo) error {
	for _, idx := range indexes {
		if !idx.Unique {
			continue
		}
		want, present := indexTuple(candidate, idx.Spec)
		if !present && idx.Sparse {
			continue
		}
		for _, d := range existing {
			if Equal(d["_id"], candidate["_id"]) {
				continue
			}
			got, gotPresent := indexTuple(d, idx.Spec)
			if !gotPresent && idx.Sparse {
				continue
			}
			if Equal(got, want) {
				return &driver.DuplicateKeyError{Collection: collection, Index: idx.Name, Value: want}
			}
		}
	}
	return nil
}

func indexTuple(doc bson.M, spec driver.IndexSpec) ([]any, bool) {
	tuple := make([]any, len(spec.Keys))
	present := false
	for i, k := range spec.Keys {
		v, ok := Lookup(doc, k.Key)
		if ok {
			present = true
		}
		tuple[i] = v
	}
	return tuple, present
}
