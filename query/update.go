package query

import (
	"context"
	"strings"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/keys"
)

// Set assigns values on every matching document. In static-key mode an
// undeclared name fails with a *keys.MissingKeyError before anything is sent.
func (q *Query) Set(ctx context.Context, values map[string]any) (driver.UpdateResult, error) {
	return q.modify(ctx, "$set", values, true)
}

// Unset removes fields from every matching document.
func (q *Query) Unset(ctx context.Context, names ...string) (driver.UpdateResult, error) {
	values := make(map[string]any, len(names))
	for _, n := range names {
		values[n] = 1
	}
	return q.modify(ctx, "$unset", values, false)
}

// Increment adds deltas to numeric fields.
func (q *Query) Increment(ctx context.Context, deltas map[string]any) (driver.UpdateResult, error) {
	return q.modify(ctx, "$inc", deltas, false)
}

// Decrement subtracts deltas from numeric fields.
func (q *Query) Decrement(ctx context.Context, deltas map[string]any) (driver.UpdateResult, error) {
	negated := make(map[string]any, len(deltas))
	for k, v := range deltas {
		switch n := v.(type) {
		case int:
			negated[k] = -n
		case int64:
			negated[k] = -n
		case float64:
			negated[k] = -n
		default:
			return driver.UpdateResult{}, argumentError("decrement", "%s: unsupported delta %T", k, v)
		}
	}
	return q.Increment(ctx, negated)
}

// Push appends a value to array fields.
func (q *Query) Push(ctx context.Context, values map[string]any) (driver.UpdateResult, error) {
	return q.modify(ctx, "$push", values, false)
}

// PushAll appends several values to one array field.
func (q *Query) PushAll(ctx context.Context, name string, values ...any) (driver.UpdateResult, error) {
	return q.modify(ctx, "$push", map[string]any{name: bson.M{"$each": values}}, false)
}

// Pull removes matching values from array fields.
func (q *Query) Pull(ctx context.Context, values map[string]any) (driver.UpdateResult, error) {
	return q.modify(ctx, "$pull", values, false)
}

// AddToSet appends a value to array fields unless already present.
func (q *Query) AddToSet(ctx context.Context, values map[string]any) (driver.UpdateResult, error) {
	return q.modify(ctx, "$addToSet", values, false)
}

// Update sends a raw update document. Keys inside operator documents are
// translated; a document without operators replaces the matches.
func (q *Query) Update(ctx context.Context, update map[string]any, opts driver.UpdateOptions) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	if update == nil {
		return driver.UpdateResult{}, argumentError("update", "update document must not be nil")
	}

	doc := bson.M{}
	for k, v := range update {
		if !strings.HasPrefix(k, "$") {
			doc[criteria.StorageKey(k, q.schema)] = q.dump(k, v)
			continue
		}
		fields, ok := v.(map[string]any)
		if !ok {
			if m, isM := v.(bson.M); isM {
				fields, ok = m, true
			}
		}
		if !ok {
			return driver.UpdateResult{}, argumentError("update", "%s expects a document, got %T", k, v)
		}
		translated := bson.M{}
		for name, val := range fields {
			translated[criteria.StorageKey(name, q.schema)] = val
		}
		doc[k] = translated
	}
	return q.coll.Update(ctx, criteria.Clone(q.state.Criteria), doc, opts)
}

func (q *Query) modify(ctx context.Context, op string, values map[string]any, dump bool) (driver.UpdateResult, error) {
	if q.err != nil {
		return driver.UpdateResult{}, q.err
	}
	if values == nil {
		return driver.UpdateResult{}, argumentError(strings.TrimPrefix(op, "$"), "values must not be nil")
	}

	fields := bson.M{}
	for name, v := range values {
		if q.schema != nil {
			head, _, _ := strings.Cut(name, ".")
			if err := q.schema.CheckKey(head); err != nil {
				return driver.UpdateResult{}, err
			}
		}
		if dump {
			v = q.dump(name, v)
		} else {
			v = criteria.Coerce(q.fieldType(name), v)
		}
		fields[criteria.StorageKey(name, q.schema)] = v
	}

	update := bson.M{op: fields}
	q.logger.Debug().Str("collection", q.coll.Name()).Str("op", op).Msg("update")
	return q.coll.Update(ctx, criteria.Clone(q.state.Criteria), update, driver.UpdateOptions{Multi: true})
}

// dump casts a value to its key type and renders its storage form. Values
// that fail to cast are sent as given.
func (q *Query) dump(name string, v any) any {
	t := q.fieldType(name)
	if t == keys.TypeAny {
		return v
	}
	cast, err := t.Cast(v)
	if err != nil {
		return v
	}
	return t.Dump(cast)
}

func (q *Query) fieldType(name string) keys.Type {
	if q.schema != nil {
		if t, ok := q.schema.KeyType(name); ok {
			return t
		}
	}
	if name == keys.IDKey || name == "id" {
		return keys.TypeObjectID
	}
	return keys.TypeAny
}
