package query

import (
	"context"
	"iter"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/keys"
)

// All returns every matching raw document.
func (q *Query) All(ctx context.Context) ([]driver.Doc, error) {
	req, err := q.Request()
	if err != nil {
		return nil, err
	}
	q.logger.Debug().Str("collection", q.coll.Name()).Interface("criteria", req.Criteria).Msg("find")
	return q.coll.Find(ctx, req)
}

// First returns the first matching document or nil.
func (q *Query) First(ctx context.Context) (driver.Doc, error) {
	docs, err := q.Limit(1).All(ctx)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Last returns the last matching document or nil. The sort is reversed; a
// query without a sort orders by _id descending.
func (q *Query) Last(ctx context.Context) (driver.Doc, error) {
	return q.Reverse().First(ctx)
}

// Count returns the number of matching documents, ignoring limit and skip.
func (q *Query) Count(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.coll.Count(ctx, criteria.Clone(q.state.Criteria))
}

// Size is an alias of Count.
func (q *Query) Size(ctx context.Context) (int, error) { return q.Count(ctx) }

// Exists reports whether any document matches.
func (q *Query) Exists(ctx context.Context) (bool, error) {
	doc, err := q.idsOnly().First(ctx)
	return doc != nil, err
}

// Exist is an alias of Exists.
func (q *Query) Exist(ctx context.Context) (bool, error) { return q.Exists(ctx) }

// Empty reports whether nothing matches.
func (q *Query) Empty(ctx context.Context) (bool, error) {
	ok, err := q.Exists(ctx)
	return !ok, err
}

// FindIDs loads the documents whose _id is in ids, returned in the order of
// ids. Missing ids are skipped. ids are coerced with the _id key type.
func (q *Query) FindIDs(ctx context.Context, ids ...any) ([]driver.Doc, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	docs, err := q.Where(criteria.F(keys.IDKey).In().Is(ids)).All(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]driver.Doc, len(docs))
	for _, d := range docs {
		byID[idKey(d[keys.IDKey])] = d
	}

	typ := idType(q.schema)
	out := make([]driver.Doc, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[idKey(criteria.Coerce(typ, id))]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Each streams matching documents in batches. Every range over the returned
// sequence re-issues the query from the start.
func (q *Query) Each(ctx context.Context) iter.Seq2[driver.Doc, error] {
	return func(yield func(driver.Doc, error) bool) {
		req, err := q.Request()
		if err != nil {
			yield(nil, err)
			return
		}

		skip, remaining := req.Skip, req.Limit
		for {
			batch := req
			batch.Criteria = criteria.Clone(req.Criteria)
			batch.Skip = skip
			batch.Limit = q.batchSize
			if remaining > 0 && remaining < batch.Limit {
				batch.Limit = remaining
			}

			docs, err := q.coll.Find(ctx, batch)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, d := range docs {
				if !yield(d, nil) {
					return
				}
			}

			if len(docs) < batch.Limit {
				return
			}
			skip += len(docs)
			if remaining > 0 {
				remaining -= len(docs)
				if remaining <= 0 {
					return
				}
			}
		}
	}
}

// DeleteAll removes every matching document directly, bypassing any
// per-document behavior. Limit and skip are ignored.
func (q *Query) DeleteAll(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	res, err := q.coll.Remove(ctx, criteria.Clone(q.state.Criteria))
	return res.Removed, err
}

// IDs returns the _id of every matching document, ignoring limit and
// skip, so it names exactly what DeleteAll removes.
func (q *Query) IDs(ctx context.Context) ([]any, error) {
	w := q.idsOnly()
	w.state.Limit, w.state.Skip = 0, 0
	docs, err := w.All(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(docs))
	for i, d := range docs {
		ids[i] = d[keys.IDKey]
	}
	return ids, nil
}

// idsOnly replaces any projection with {_id: 1}.
func (q *Query) idsOnly() *Query {
	c := q.clone()
	c.state.Include = []string{keys.IDKey}
	c.state.Exclude = nil
	return c
}

func idType(s Schema) keys.Type {
	if s != nil {
		if t, ok := s.KeyType(keys.IDKey); ok {
			return t
		}
	}
	return keys.TypeObjectID
}

func idKey(id any) string {
	if b, ok := id.(bson.Binary); ok {
		return "b:" + driver.IDString(b)
	}
	return driver.IDString(id)
}
