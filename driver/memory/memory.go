// Package memory is an in-process driver. Documents are deep copied on the
// way in and out so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/driver/match"
)

const idIndexName = "_id_"

// Database holds named collections.
type Database struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

// New returns an empty database.
func New() *Database {
	return &Database{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use.
func (db *Database) Collection(name string) driver.Collection {
	return db.C(name)
}

// C is Collection with the concrete return type.
func (db *Database) C(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.collections[name]
	if !ok {
		c = newCollection(name)
		db.collections[name] = c
	}
	return c
}

// Names lists the collections created so far.
func (db *Database) Names() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	return names
}

// Close drops every collection.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.collections = make(map[string]*Collection)
	return nil
}

// Collection is a document list guarded by a RWMutex. Insertion order is
// the natural order.
type Collection struct {
	name string

	mu      sync.RWMutex
	docs    []bson.M
	indexes []driver.IndexInfo
}

var _ driver.Collection = (*Collection)(nil)

func newCollection(name string) *Collection {
	return &Collection{
		name: name,
		indexes: []driver.IndexInfo{{
			Name:   idIndexName,
			Spec:   driver.IndexSpec{Keys: []driver.SortKey{{Key: "_id", Direction: 1}}},
			Unique: true,
		}},
	}
}

// Name implements driver.Collection.
func (c *Collection) Name() string { return c.name }

// Find implements driver.Collection.
func (c *Collection) Find(ctx context.Context, req driver.FindRequest) ([]driver.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return match.Select(docs, req)
}

// FindOne implements driver.Collection.
func (c *Collection) FindOne(ctx context.Context, criteria, projection driver.Doc) (driver.Doc, error) {
	docs, err := c.Find(ctx, driver.FindRequest{Criteria: criteria, Projection: projection, Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Count implements driver.Collection.
func (c *Collection) Count(ctx context.Context, criteria driver.Doc) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, d := range c.docs {
		ok, err := match.Matches(d, criteria)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Insert implements driver.Collection. A missing _id gets a new ObjectId.
func (c *Collection) Insert(ctx context.Context, doc driver.Doc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored, err := match.Clone(doc)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = bson.M{}
	}
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = bson.NewObjectId()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := match.CheckUnique(c.name, c.docs, stored, c.indexes); err != nil {
		return nil, err
	}
	if c.indexOf(stored["_id"]) >= 0 {
		return nil, &driver.DuplicateKeyError{Collection: c.name, Index: idIndexName, Value: stored["_id"]}
	}

	c.docs = append(c.docs, stored)
	return stored["_id"], nil
}

// Update implements driver.Collection.
func (c *Collection) Update(ctx context.Context, criteria, update driver.Doc, opts driver.UpdateOptions) (driver.UpdateResult, error) {
	var res driver.UpdateResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	update, err := match.Clone(update)
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, d := range c.docs {
		ok, err := match.Matches(d, criteria)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}

		res.Matched++
		next, err := match.Apply(d, update)
		if err != nil {
			return res, err
		}
		if err := match.CheckUnique(c.name, c.docs, next, c.indexes); err != nil {
			return res, err
		}
		if !match.Equal(d, next) {
			res.Modified++
		}
		c.docs[i] = next

		if !opts.Multi {
			break
		}
	}

	if res.Matched == 0 && opts.Upsert {
		doc, err := match.Upsert(criteria, update)
		if err != nil {
			return res, err
		}
		doc, err = match.Clone(doc)
		if err != nil {
			return res, err
		}
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = bson.NewObjectId()
		}
		if err := match.CheckUnique(c.name, c.docs, doc, c.indexes); err != nil {
			return res, err
		}
		c.docs = append(c.docs, doc)
		res.UpsertedID = doc["_id"]
	}
	return res, nil
}

// Remove implements driver.Collection.
func (c *Collection) Remove(ctx context.Context, criteria driver.Doc) (driver.RemoveResult, error) {
	var res driver.RemoveResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.docs[:0]
	for _, d := range c.docs {
		ok, err := match.Matches(d, criteria)
		if err != nil {
			return res, err
		}
		if ok {
			res.Removed++
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(c.docs); i++ {
		c.docs[i] = nil
	}
	c.docs = kept
	return res, nil
}

// CreateIndex implements driver.Collection. Creating an index that already
// exists under the same name is a no-op.
func (c *Collection) CreateIndex(ctx context.Context, spec driver.IndexSpec, opts driver.IndexOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(spec.Keys) == 0 {
		return fmt.Errorf("index on %s needs at least one key", c.name)
	}

	name := opts.Name
	if name == "" {
		name = driver.IndexName(spec)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, idx := range c.indexes {
		if idx.Name == name {
			return nil
		}
	}

	info := driver.IndexInfo{Name: name, Spec: spec, Unique: opts.Unique, Sparse: opts.Sparse}
	if info.Unique {
		for i, d := range c.docs {
			if err := match.CheckUnique(c.name, c.docs[:i], d, []driver.IndexInfo{info}); err != nil {
				return err
			}
		}
	}
	c.indexes = append(c.indexes, info)
	return nil
}

// DropIndex implements driver.Collection.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == idIndexName {
		return fmt.Errorf("cannot drop index %s", idIndexName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, idx := range c.indexes {
		if idx.Name == name {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("index not found with name [%s]", name)
}

// DropIndexes implements driver.Collection. The _id index stays.
func (c *Collection) DropIndexes(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes = c.indexes[:1]
	return nil
}

// Indexes implements driver.Collection.
func (c *Collection) Indexes(ctx context.Context) ([]driver.IndexInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]driver.IndexInfo, len(c.indexes))
	copy(out, c.indexes)
	return out, nil
}

// Len returns the number of stored documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func (c *Collection) snapshot() ([]bson.M, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]bson.M, 0, len(c.docs))
	for _, d := range c.docs {
		cp, err := match.Clone(d)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (c *Collection) indexOf(id any) int {
	for i, d := range c.docs {
		if match.Equal(d["_id"], id) {
			return i
		}
	}
	return -1
}
