package query

import (
	"slices"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/keys"
)

// State is the accumulated query. All names in it are storage keys.
// Limit and Skip are zero when unset.
type State struct {
	Criteria bson.M
	Include  []string
	Exclude  []string
	Sort     []criteria.SortField
	Limit    int
	Skip     int
}

// Clone returns a copy that shares nothing mutable with s.
func (s State) Clone() State {
	s.Criteria = criteria.Clone(s.Criteria)
	s.Include = slices.Clone(s.Include)
	s.Exclude = slices.Clone(s.Exclude)
	s.Sort = slices.Clone(s.Sort)
	return s
}

// Partial reports whether the projection selects a subset of the document.
func (s State) Partial() bool {
	return len(s.Include) > 0 || len(s.Exclude) > 0
}

// Projection renders the include or exclude list as a driver projection.
func (s State) Projection() driver.Doc {
	switch {
	case len(s.Include) > 0:
		doc := driver.Doc{}
		for _, f := range s.Include {
			doc[f] = 1
		}
		return doc
	case len(s.Exclude) > 0:
		doc := driver.Doc{}
		for _, f := range s.Exclude {
			doc[f] = 0
		}
		return doc
	}
	return nil
}

// Request builds the driver find request.
func (s State) Request() driver.FindRequest {
	req := driver.FindRequest{
		Criteria:   criteria.Clone(s.Criteria),
		Projection: s.Projection(),
		Skip:       s.Skip,
		Limit:      s.Limit,
	}
	if req.Criteria == nil {
		req.Criteria = bson.M{}
	}
	for _, f := range s.Sort {
		req.Sort = append(req.Sort, driver.SortKey{Key: f.Field, Direction: f.Direction})
	}
	return req
}

func (s *State) addSort(fields ...criteria.SortField) {
	for _, f := range fields {
		s.Sort = slices.DeleteFunc(s.Sort, func(existing criteria.SortField) bool {
			return existing.Field == f.Field
		})
		s.Sort = append(s.Sort, f)
	}
}

func (s *State) reverse() {
	if len(s.Sort) == 0 {
		s.Sort = []criteria.SortField{{Field: keys.IDKey, Direction: criteria.Descending}}
		return
	}
	for i, f := range s.Sort {
		s.Sort[i] = f.Reversed()
	}
}

func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		if !slices.Contains(dst, n) {
			dst = append(dst, n)
		}
	}
	return dst
}
