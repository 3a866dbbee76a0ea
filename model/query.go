package model

import (
	"context"
	"iter"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/keys"
	"github.com/goliatone/go-odm/query"
)

// Query is a query.Query bound to a model: kickers return *T, deletes and
// destroys follow the model's callback rules and unknown names dispatch to
// scopes, methods and dynamic finders through Call.
//
// Like query.Query it is copy-on-write.
type Query[T any] struct {
	model    *Model[T]
	raw      *query.Query
	filtered bool
	err      error
}

// Bind wraps an existing raw query for m. Its key translation is whatever
// the raw query was built with.
func Bind[T any](m *Model[T], raw *query.Query) *Query[T] {
	return &Query[T]{model: m, raw: raw, filtered: len(raw.Criteria()) > 0}
}

func (q *Query[T]) with(raw *query.Query) *Query[T] {
	c := *q
	c.raw = raw
	return &c
}

func (q *Query[T]) fail(err error) *Query[T] {
	c := *q
	if c.err == nil {
		c.err = err
	}
	return &c
}

// Model returns the bound model.
func (q *Query[T]) Model() *Model[T] { return q.model }

// Raw returns the underlying query.
func (q *Query[T]) Raw() *query.Query { return q.raw }

// Criteria returns the storage-keyed criteria.
func (q *Query[T]) Criteria() bson.M { return q.raw.Criteria() }

// State returns the accumulated state.
func (q *Query[T]) State() query.State { return q.raw.State() }

// Err returns the first deferred error.
func (q *Query[T]) Err() error {
	if q.err != nil {
		return q.err
	}
	return q.raw.Err()
}

func (q *Query[T]) Where(args ...any) *Query[T] {
	c := q.with(q.raw.Where(args...))
	c.filtered = true
	return c
}

func (q *Query[T]) Fields(names ...string) *Query[T] { return q.with(q.raw.Fields(names...)) }
func (q *Query[T]) Only(names ...string) *Query[T]   { return q.with(q.raw.Only(names...)) }
func (q *Query[T]) Ignore(names ...string) *Query[T] { return q.with(q.raw.Ignore(names...)) }
func (q *Query[T]) Sort(specs ...any) *Query[T]      { return q.with(q.raw.Sort(specs...)) }
func (q *Query[T]) Order(specs ...any) *Query[T]     { return q.with(q.raw.Order(specs...)) }
func (q *Query[T]) Reverse() *Query[T]               { return q.with(q.raw.Reverse()) }
func (q *Query[T]) Limit(n int) *Query[T]            { return q.with(q.raw.Limit(n)) }
func (q *Query[T]) Skip(n int) *Query[T]             { return q.with(q.raw.Skip(n)) }

// Paginate selects page (1 based) of perPage documents.
func (q *Query[T]) Paginate(perPage, page int) *Query[T] {
	return q.with(q.raw.Paginate(perPage, page))
}

// Merge folds other into a copy of q: criteria follow Where rules, so a key
// set by both takes other's value.
func (q *Query[T]) Merge(other *Query[T]) *Query[T] {
	if other == nil {
		return q
	}
	if other.err != nil {
		return q.fail(other.err)
	}
	c := q.with(q.raw.Merge(other.raw))
	c.filtered = q.filtered || other.filtered
	return c
}

func (q *Query[T]) partial() bool {
	return q.raw.State().Partial()
}

func (q *Query[T]) loadAll(ctx context.Context, docs []driver.Doc) ([]*T, error) {
	partial := q.partial()
	out := make([]*T, 0, len(docs))
	for _, raw := range docs {
		t, err := q.model.load(ctx, raw, partial)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// All loads every matching document.
func (q *Query[T]) All(ctx context.Context) ([]*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	docs, err := q.raw.All(ctx)
	if err != nil {
		return nil, err
	}
	return q.loadAll(ctx, docs)
}

// First loads the first match, or nil.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	raw, err := q.raw.First(ctx)
	if err != nil || raw == nil {
		return nil, err
	}
	return q.model.load(ctx, raw, q.partial())
}

// Last loads the last match, or nil. Without a sort the last document by
// _id is returned.
func (q *Query[T]) Last(ctx context.Context) (*T, error) {
	return q.Reverse().First(ctx)
}

// FindOne loads the document with id within the query, or nil. With the
// identity map enabled an unscoped lookup is served from the map.
func (q *Query[T]) FindOne(ctx context.Context, id any) (*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	byID := q.Where(criteria.F(keys.IDKey).Is(id))
	if im := q.model.identityMap(ctx); im.Enabled() && !q.filtered && !q.partial() {
		if byID.err != nil {
			return nil, byID.err
		}
		return q.model.fetch(ctx, im, id, byID.raw.First)
	}
	return byID.First(ctx)
}

// Find loads the documents with the given ids in request order, silently
// skipping ids that do not exist. No ids yields nil.
func (q *Query[T]) Find(ctx context.Context, ids ...any) ([]*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	found := make(map[string]*T, len(ids))
	var missing []any
	for _, id := range ids {
		if !q.filtered && !q.partial() {
			if t, ok := q.model.cached(ctx, id); ok {
				found[q.model.idString(id)] = t
				continue
			}
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		docs, err := q.raw.FindIDs(ctx, missing...)
		if err != nil {
			return nil, err
		}
		loaded, err := q.loadAll(ctx, docs)
		if err != nil {
			return nil, err
		}
		for _, t := range loaded {
			found[q.model.idString(docOf(t).ID())] = t
		}
	}

	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		if t, ok := found[q.model.idString(id)]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// MustFindOne is FindOne failing with a *NotFoundError instead of nil.
func (q *Query[T]) MustFindOne(ctx context.Context, id any) (*T, error) {
	t, err := q.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &NotFoundError{Model: q.model.Name(), IDs: []any{id}}
	}
	return t, nil
}

// MustFind is Find failing with a *NotFoundError unless every id was found.
// No ids is also a failure.
func (q *Query[T]) MustFind(ctx context.Context, ids ...any) ([]*T, error) {
	if len(ids) == 0 {
		return nil, &NotFoundError{Model: q.model.Name()}
	}
	docs, err := q.Find(ctx, ids...)
	if err != nil {
		return nil, err
	}
	if len(docs) != len(ids) {
		return nil, &NotFoundError{Model: q.model.Name(), IDs: q.model.missingIDs(ids, docs)}
	}
	return docs, nil
}

// FindEach streams matches in batches. Ranging again re-runs the query.
func (q *Query[T]) FindEach(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		if q.err != nil {
			yield(nil, q.err)
			return
		}
		partial := q.partial()
		for raw, err := range q.raw.Each(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			t, err := q.model.load(ctx, raw, partial)
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

// Page runs a paginated query and returns the page with totals.
func (q *Query[T]) Page(ctx context.Context) (query.Page[*T], error) {
	if q.err != nil {
		return query.Page[*T]{}, q.err
	}
	raw, err := q.raw.Page(ctx)
	if err != nil {
		return query.Page[*T]{}, err
	}
	items, err := q.loadAll(ctx, raw.Items)
	if err != nil {
		return query.Page[*T]{}, err
	}
	return query.Page[*T]{
		Items:       items,
		Total:       raw.Total,
		TotalPages:  raw.TotalPages,
		CurrentPage: raw.CurrentPage,
		PerPage:     raw.PerPage,
	}, nil
}

// Count returns the number of matches ignoring limit and skip.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.raw.Count(ctx)
}

// Size is an alias of Count.
func (q *Query[T]) Size(ctx context.Context) (int, error) { return q.Count(ctx) }

// Exists reports whether anything matches.
func (q *Query[T]) Exists(ctx context.Context) (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	return q.raw.Exists(ctx)
}

// Exist is an alias of Exists.
func (q *Query[T]) Exist(ctx context.Context) (bool, error) { return q.Exists(ctx) }

// Empty reports whether nothing matches.
func (q *Query[T]) Empty(ctx context.Context) (bool, error) {
	ok, err := q.Exists(ctx)
	return !ok, err
}

// DeleteAll removes every match with one bulk remove. No callbacks run.
// Identity map entries of the removed documents are dropped.
func (q *Query[T]) DeleteAll(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	root := q.model.meta.tree.root
	im := q.model.identityMap(ctx)

	if len(q.raw.Criteria()) == 0 {
		n, err := q.raw.DeleteAll(ctx)
		if err != nil {
			return n, err
		}
		return n, im.ClearType(ctx, root)
	}

	ids, err := q.raw.IDs(ctx)
	if err != nil {
		return 0, err
	}
	n, err := q.raw.DeleteAll(ctx)
	if err != nil {
		return n, err
	}
	for i, id := range ids {
		ids[i] = q.model.meta.castID(id)
	}
	return n, im.RemoveAll(ctx, root, ids...)
}

// Delete bulk removes the matches among ids. No callbacks run.
func (q *Query[T]) Delete(ctx context.Context, ids ...any) (int, error) {
	if len(ids) == 0 {
		return 0, &ArgumentError{Op: "delete", Message: "at least one id is required"}
	}
	return q.Where(criteria.F(keys.IDKey).In().Is(ids)).DeleteAll(ctx)
}

// DestroyAll loads every match and destroys each one, running its destroy
// callbacks. It stops at the first failure.
func (q *Query[T]) DestroyAll(ctx context.Context) (int, error) {
	docs, err := q.All(ctx)
	if err != nil {
		return 0, err
	}
	return q.model.destroyEach(ctx, docs)
}

// Destroy loads the matches among ids and destroys each one. It fails with
// a *NotFoundError, destroying nothing, unless every id matched.
func (q *Query[T]) Destroy(ctx context.Context, ids ...any) (int, error) {
	if len(ids) == 0 {
		return 0, &ArgumentError{Op: "destroy", Message: "at least one id is required"}
	}
	docs, err := q.MustFind(ctx, ids...)
	if err != nil {
		return 0, err
	}
	return q.model.destroyEach(ctx, docs)
}

func (q *Query[T]) Set(ctx context.Context, values map[string]any) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	return q.raw.Set(ctx, values)
}

func (q *Query[T]) Unset(ctx context.Context, names ...string) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	return q.raw.Unset(ctx, names...)
}

func (q *Query[T]) Increment(ctx context.Context, deltas map[string]any) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	return q.raw.Increment(ctx, deltas)
}

func (q *Query[T]) Decrement(ctx context.Context, deltas map[string]any) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	return q.raw.Decrement(ctx, deltas)
}

func (q *Query[T]) Push(ctx context.Context, values map[string]any) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	return q.raw.Push(ctx, values)
}

func (q *Query[T]) PushAll(ctx context.Context, name string, values ...any) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	return q.raw.PushAll(ctx, name, values...)
}

func (q *Query[T]) Pull(ctx context.Context, values map[string]any) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	return q.raw.Pull(ctx, values)
}

func (q *Query[T]) AddToSet(ctx context.Context, values map[string]any) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	return q.raw.AddToSet(ctx, values)
}

func (m *Model[T]) destroyEach(ctx context.Context, docs []*T) (int, error) {
	for i, doc := range docs {
		if err := m.Destroy(ctx, doc); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

func (m *Model[T]) idString(id any) string {
	return m.meta.tree.root + ":" + driver.IDString(m.meta.castID(id))
}

func (m *Model[T]) missingIDs(ids []any, found []*T) []any {
	seen := make(map[string]struct{}, len(found))
	for _, t := range found {
		seen[m.idString(docOf(t).ID())] = struct{}{}
	}
	var missing []any
	for _, id := range ids {
		if _, ok := seen[m.idString(id)]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
