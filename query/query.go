// Package query is the chainable query builder. A Query accumulates
// criteria, projection, sort and window state, translating every field name
// through a key schema as it goes, and hands the result to a
// driver.Collection when a kicker runs.
//
// Queries are copy-on-write: every fluent call returns a new *Query and the
// receiver is left untouched, so a base query can be shared and extended.
// Builder errors (bad criteria, conflicting projections) are recorded and
// returned by the first kicker.
package query

import (
	"github.com/rs/zerolog"
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/driver"
)

// DefaultBatchSize is the page size Each uses against the driver.
const DefaultBatchSize = 100

// Schema is the part of a key registry a query needs. *keys.Registry
// implements it.
type Schema interface {
	criteria.KeyResolver
	CheckKey(name string) error
}

// Option configures a Query.
type Option func(*Query)

// WithSchema sets the schema used for key translation and static-key checks.
func WithSchema(s Schema) Option {
	return func(q *Query) { q.schema = s }
}

// WithLogger sets the logger used for kicker debug lines.
func WithLogger(l zerolog.Logger) Option {
	return func(q *Query) { q.logger = l }
}

// WithBatchSize sets the page size used by Each.
func WithBatchSize(n int) Option {
	return func(q *Query) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// Query is a copy-on-write query over one collection.
type Query struct {
	coll      driver.Collection
	schema    Schema
	logger    zerolog.Logger
	batchSize int

	state State
	err   error
}

// New returns an empty query over coll.
func New(coll driver.Collection, opts ...Option) *Query {
	q := &Query{
		coll:      coll,
		logger:    zerolog.Nop(),
		batchSize: DefaultBatchSize,
		state:     State{Criteria: bson.M{}},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Query) clone() *Query {
	c := *q
	c.state = q.state.Clone()
	return &c
}

func (q *Query) fail(err error) *Query {
	c := q.clone()
	if c.err == nil {
		c.err = err
	}
	return c
}

// Collection returns the collection the query runs against.
func (q *Query) Collection() driver.Collection { return q.coll }

// Schema returns the key schema, which may be nil.
func (q *Query) Schema() Schema { return q.schema }

// State returns a copy of the accumulated state.
func (q *Query) State() State { return q.state.Clone() }

// Criteria returns a copy of the storage-keyed criteria document.
func (q *Query) Criteria() bson.M { return criteria.Clone(q.state.Criteria) }

// Err returns the first builder error, if any.
func (q *Query) Err() error { return q.err }

// Where merges criteria into the query. Accepted forms are those of
// criteria.Normalize. A later condition on the same storage key replaces the
// earlier one; two operator documents on one key are merged.
func (q *Query) Where(args ...any) *Query {
	conds, err := criteria.Normalize(args...)
	if err != nil {
		return q.fail(argumentError("where", "%v", err))
	}

	c := q.clone()
	criteria.Merge(c.state.Criteria, criteria.Dealias(conds, q.schema))
	return c
}

// Fields selects the fields to load. It is the include form of the
// projection and conflicts with Ignore.
func (q *Query) Fields(names ...string) *Query {
	if len(q.state.Exclude) > 0 {
		return q.fail(argumentError("fields", "cannot include fields on a query that excludes fields"))
	}
	c := q.clone()
	c.state.Include = appendUnique(c.state.Include, criteria.DealiasFields(names, q.schema)...)
	return c
}

// Only is an alias of Fields.
func (q *Query) Only(names ...string) *Query { return q.Fields(names...) }

// Ignore excludes fields from loading. It conflicts with Fields.
func (q *Query) Ignore(names ...string) *Query {
	if len(q.state.Include) > 0 {
		return q.fail(argumentError("ignore", "cannot exclude fields on a query that includes fields"))
	}
	c := q.clone()
	c.state.Exclude = appendUnique(c.state.Exclude, criteria.DealiasFields(names, q.schema)...)
	return c
}

// Sort appends sort fields. Accepted forms are those of criteria.ParseSort:
// "age", "age desc", "-age", criteria.F("age").Desc(). Sorting again on a
// field already in the sequence moves it to the end with the new direction.
func (q *Query) Sort(specs ...any) *Query {
	fields, err := criteria.ParseSort(specs...)
	if err != nil {
		return q.fail(argumentError("sort", "%v", err))
	}

	c := q.clone()
	for i := range fields {
		fields[i].Field = criteria.StorageKey(fields[i].Field, q.schema)
	}
	c.state.addSort(fields...)
	return c
}

// Order is an alias of Sort.
func (q *Query) Order(specs ...any) *Query { return q.Sort(specs...) }

// Reverse inverts every sort direction. Without a sort it orders by _id
// descending.
func (q *Query) Reverse() *Query {
	c := q.clone()
	c.state.reverse()
	return c
}

// Limit caps the number of documents. Zero removes the cap.
func (q *Query) Limit(n int) *Query {
	if n < 0 {
		return q.fail(argumentError("limit", "limit must not be negative, got %d", n))
	}
	c := q.clone()
	c.state.Limit = n
	return c
}

// Skip sets the number of documents to skip.
func (q *Query) Skip(n int) *Query {
	if n < 0 {
		return q.fail(argumentError("skip", "skip must not be negative, got %d", n))
	}
	c := q.clone()
	c.state.Skip = n
	return c
}

// Paginate sets limit to perPage and skip to perPage*(page-1).
func (q *Query) Paginate(perPage, page int) *Query {
	if perPage < 1 {
		return q.fail(argumentError("paginate", "per page must be positive, got %d", perPage))
	}
	if page < 1 {
		return q.fail(argumentError("paginate", "page must be positive, got %d", page))
	}
	c := q.clone()
	c.state.Limit = perPage
	c.state.Skip = perPage * (page - 1)
	return c
}

// Merge folds other's state into a copy of q. Criteria follow Where rules,
// sort fields are appended, projections are unioned and a non-zero limit or
// skip on other wins.
func (q *Query) Merge(other *Query) *Query {
	if other == nil {
		return q
	}
	if other.err != nil {
		return q.fail(other.err)
	}

	c := q.clone()
	o := other.state.Clone()

	criteria.Merge(c.state.Criteria, o.Criteria)
	c.state.addSort(o.Sort...)

	if (len(c.state.Include) > 0 && len(o.Exclude) > 0) || (len(c.state.Exclude) > 0 && len(o.Include) > 0) {
		return q.fail(argumentError("merge", "cannot merge an include projection with an exclude projection"))
	}
	c.state.Include = appendUnique(c.state.Include, o.Include...)
	c.state.Exclude = appendUnique(c.state.Exclude, o.Exclude...)

	if o.Limit > 0 {
		c.state.Limit = o.Limit
	}
	if o.Skip > 0 {
		c.state.Skip = o.Skip
	}
	return c
}

// Request builds the driver request, or returns the deferred builder error.
func (q *Query) Request() (driver.FindRequest, error) {
	if q.err != nil {
		return driver.FindRequest{}, q.err
	}
	return q.state.Request(), nil
}
