// Package sqldoc stores documents in a relational database through bun.
// Every collection shares one table keyed by (collection, id); bodies are
// bson encoded so ObjectIds, binaries and times survive the round trip.
// Criteria are evaluated in process, with _id equality pushed down to SQL.
package sqldoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"gopkg.in/mgo.v2/bson"
	_ "modernc.org/sqlite"

	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/driver/match"
)

const idIndexName = "_id_"

type documentRow struct {
	bun.BaseModel `bun:"table:odm_documents,alias:d"`

	Collection string `bun:"collection,pk"`
	ID         string `bun:"id,pk"`
	Seq        int64  `bun:"seq,notnull"`
	Body       []byte `bun:"body,notnull"`
}

type indexRow struct {
	bun.BaseModel `bun:"table:odm_indexes,alias:i"`

	Collection string `bun:"collection,pk"`
	Name       string `bun:"name,pk"`
	Keys       string `bun:"keys,notnull"`
	Unique     bool   `bun:"is_unique,notnull"`
	Sparse     bool   `bun:"is_sparse,notnull"`
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger used for schema setup and close.
func WithLogger(l zerolog.Logger) Option {
	return func(db *Database) { db.logger = l }
}

// Database is a driver.Database over a bun.DB.
type Database struct {
	db     *bun.DB
	logger zerolog.Logger

	// serializes writers so unique checks and writes are atomic
	mu sync.Mutex
}

// Open connects with one of the registered SQL drivers: "sqlite" (pure Go),
// "sqlite3" (cgo) or "postgres", and creates the schema if needed.
func Open(ctx context.Context, driverName, dsn string, opts ...Option) (*Database, error) {
	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}

	var bdb *bun.DB
	switch driverName {
	case "sqlite", "sqlite3":
		sqldb.SetMaxOpenConns(1)
		bdb = bun.NewDB(sqldb, sqlitedialect.New())
	case "postgres":
		bdb = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb.Close()
		return nil, fmt.Errorf("unsupported sql driver %q", driverName)
	}

	return New(ctx, bdb, opts...)
}

// New wraps an existing bun.DB and creates the schema if needed.
func New(ctx context.Context, bdb *bun.DB, opts ...Option) (*Database, error) {
	db := &Database{db: bdb, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(db)
	}

	for _, model := range []any{(*documentRow)(nil), (*indexRow)(nil)} {
		if _, err := bdb.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := bdb.NewCreateIndex().
		Model((*documentRow)(nil)).
		Index("odm_documents_seq_idx").
		IfNotExists().
		Column("collection", "seq").
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db.logger.Debug().Str("dialect", bdb.Dialect().Name().String()).Msg("document schema ready")
	return db, nil
}

// DB exposes the underlying bun handle.
func (db *Database) DB() *bun.DB { return db.db }

// Collection implements driver.Database.
func (db *Database) Collection(name string) driver.Collection {
	return &Collection{name: name, db: db}
}

// Close implements driver.Database.
func (db *Database) Close() error {
	db.logger.Debug().Msg("closing document store")
	return db.db.Close()
}

// Collection is a driver.Collection over the shared document table.
type Collection struct {
	name string
	db   *Database
}

var _ driver.Collection = (*Collection)(nil)

// Name implements driver.Collection.
func (c *Collection) Name() string { return c.name }

// Find implements driver.Collection.
func (c *Collection) Find(ctx context.Context, req driver.FindRequest) ([]driver.Doc, error) {
	docs, err := c.load(ctx, c.db.db, req.Criteria)
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
	if len(criteria) == 0 {
		n, err := c.db.db.NewSelect().
			Model((*documentRow)(nil)).
			Where("collection = ?", c.name).
			Count(ctx)
		return n, err
	}

	docs, err := c.load(ctx, c.db.db, criteria)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
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
	stored := bson.M{}
	for k, v := range doc {
		stored[k] = v
	}
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = bson.NewObjectId()
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	err := c.db.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := c.load(ctx, tx, nil)
		if err != nil {
			return err
		}
		for _, d := range existing {
			if match.Equal(d["_id"], stored["_id"]) {
				return &driver.DuplicateKeyError{Collection: c.name, Index: idIndexName, Value: stored["_id"]}
			}
		}
		indexes, err := c.indexes(ctx, tx)
		if err != nil {
			return err
		}
		if err := match.CheckUnique(c.name, existing, stored, indexes); err != nil {
			return err
		}
		return c.insertRow(ctx, tx, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored["_id"], nil
}

// Update implements driver.Collection.
func (c *Collection) Update(ctx context.Context, criteria, update driver.Doc, opts driver.UpdateOptions) (driver.UpdateResult, error) {
	var res driver.UpdateResult

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	err := c.db.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := c.load(ctx, tx, nil)
		if err != nil {
			return err
		}
		indexes, err := c.indexes(ctx, tx)
		if err != nil {
			return err
		}

		for i, d := range existing {
			ok, err := match.Matches(d, criteria)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			res.Matched++
			next, err := match.Apply(d, update)
			if err != nil {
				return err
			}
			if err := match.CheckUnique(c.name, existing, next, indexes); err != nil {
				return err
			}
			if !match.Equal(d, next) {
				body, err := bson.Marshal(next)
				if err != nil {
					return err
				}
				if _, err := tx.NewUpdate().
					Model((*documentRow)(nil)).
					Set("body = ?", body).
					Where("collection = ?", c.name).
					Where("id = ?", rowID(d["_id"])).
					Exec(ctx); err != nil {
					return err
				}
				res.Modified++
			}
			existing[i] = next

			if !opts.Multi {
				break
			}
		}

		if res.Matched > 0 || !opts.Upsert {
			return nil
		}

		doc, err := match.Upsert(criteria, update)
		if err != nil {
			return err
		}
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = bson.NewObjectId()
		}
		if err := match.CheckUnique(c.name, existing, doc, indexes); err != nil {
			return err
		}
		res.UpsertedID = doc["_id"]
		return c.insertRow(ctx, tx, doc)
	})
	return res, err
}

// Remove implements driver.Collection.
func (c *Collection) Remove(ctx context.Context, criteria driver.Doc) (driver.RemoveResult, error) {
	var res driver.RemoveResult

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	err := c.db.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		docs, err := c.load(ctx, tx, criteria)
		if err != nil {
			return err
		}

		var ids []string
		for _, d := range docs {
			ok, err := match.Matches(d, criteria)
			if err != nil {
				return err
			}
			if ok {
				ids = append(ids, rowID(d["_id"]))
			}
		}
		if len(ids) == 0 {
			return nil
		}

		r, err := tx.NewDelete().
			Model((*documentRow)(nil)).
			Where("collection = ?", c.name).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		res.Removed = int(n)
		return nil
	})
	return res, err
}

// CreateIndex implements driver.Collection. Index definitions are stored
// alongside the documents and enforced on write.
func (c *Collection) CreateIndex(ctx context.Context, spec driver.IndexSpec, opts driver.IndexOptions) error {
	if len(spec.Keys) == 0 {
		return fmt.Errorf("index on %s needs at least one key", c.name)
	}
	name := opts.Name
	if name == "" {
		name = driver.IndexName(spec)
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	return c.db.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := c.indexes(ctx, tx)
		if err != nil {
			return err
		}
		for _, idx := range existing {
			if idx.Name == name {
				return nil
			}
		}

		info := driver.IndexInfo{Name: name, Spec: spec, Unique: opts.Unique, Sparse: opts.Sparse}
		if info.Unique {
			docs, err := c.load(ctx, tx, nil)
			if err != nil {
				return err
			}
			for i, d := range docs {
				if err := match.CheckUnique(c.name, docs[:i], d, []driver.IndexInfo{info}); err != nil {
					return err
				}
			}
		}

		row := &indexRow{
			Collection: c.name,
			Name:       name,
			Keys:       encodeKeys(spec),
			Unique:     opts.Unique,
			Sparse:     opts.Sparse,
		}
		_, err = tx.NewInsert().Model(row).Exec(ctx)
		return err
	})
}

// DropIndex implements driver.Collection.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if name == idIndexName {
		return fmt.Errorf("cannot drop index %s", idIndexName)
	}

	r, err := c.db.db.NewDelete().
		Model((*indexRow)(nil)).
		Where("collection = ?", c.name).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("index not found with name [%s]", name)
	}
	return nil
}

// DropIndexes implements driver.Collection. The _id index stays.
func (c *Collection) DropIndexes(ctx context.Context) error {
	_, err := c.db.db.NewDelete().
		Model((*indexRow)(nil)).
		Where("collection = ?", c.name).
		Exec(ctx)
	return err
}

// Indexes implements driver.Collection.
func (c *Collection) Indexes(ctx context.Context) ([]driver.IndexInfo, error) {
	return c.indexes(ctx, c.db.db)
}

func (c *Collection) indexes(ctx context.Context, idb bun.IDB) ([]driver.IndexInfo, error) {
	var rows []indexRow
	if err := idb.NewSelect().
		Model(&rows).
		Where("collection = ?", c.name).
		OrderExpr("name ASC").
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	out := []driver.IndexInfo{{
		Name:   idIndexName,
		Spec:   driver.IndexSpec{Keys: []driver.SortKey{{Key: "_id", Direction: 1}}},
		Unique: true,
	}}
	for _, r := range rows {
		spec, err := decodeKeys(r.Keys)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", r.Name, err)
		}
		out = append(out, driver.IndexInfo{Name: r.Name, Spec: spec, Unique: r.Unique, Sparse: r.Sparse})
	}
	return out, nil
}

// load decodes the collection in insertion order. An _id equality in
// criteria narrows the query to a single row.
func (c *Collection) load(ctx context.Context, idb bun.IDB, criteria driver.Doc) ([]bson.M, error) {
	var rows []documentRow
	q := idb.NewSelect().
		Model(&rows).
		Where("collection = ?", c.name).
		OrderExpr("seq ASC")

	if id, ok := criteria["_id"]; ok && isScalarID(id) {
		q = q.Where("id = ?", rowID(id))
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	out := make([]bson.M, 0, len(rows))
	for _, r := range rows {
		doc := bson.M{}
		if err := bson.Unmarshal(r.Body, &doc); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", c.name, r.ID, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Collection) insertRow(ctx context.Context, tx bun.Tx, doc bson.M) error {
	body, err := bson.Marshal(doc)
	if err != nil {
		return err
	}

	var seq int64
	if err := tx.NewSelect().
		Model((*documentRow)(nil)).
		ColumnExpr("COALESCE(MAX(seq), 0)").
		Where("collection = ?", c.name).
		Scan(ctx, &seq); err != nil {
		return err
	}

	row := &documentRow{
		Collection: c.name,
		ID:         rowID(doc["_id"]),
		Seq:        seq + 1,
		Body:       body,
	}
	_, err = tx.NewInsert().Model(row).Exec(ctx)
	return err
}

// rowID renders an id as a row key. The prefix keeps ids of different
// kinds with the same rendering apart.
func rowID(id any) string {
	switch id.(type) {
	case bson.ObjectId:
		return "o:" + driver.IDString(id)
	case string:
		return "s:" + driver.IDString(id)
	case bson.Binary:
		return "b:" + driver.IDString(id)
	default:
		return "v:" + fmt.Sprintf("%T:%v", id, id)
	}
}

func isScalarID(id any) bool {
	switch id.(type) {
	case bson.ObjectId, string, bson.Binary:
		return true
	}
	return false
}

func encodeKeys(spec driver.IndexSpec) string {
	parts := make([]string, len(spec.Keys))
	for i, k := range spec.Keys {
		dir := k.Direction
		if dir == 0 {
			dir = 1
		}
		parts[i] = k.Key + ":" + strconv.Itoa(dir)
	}
	return strings.Join(parts, ",")
}

func decodeKeys(s string) (driver.IndexSpec, error) {
	var spec driver.IndexSpec
	for _, part := range strings.Split(s, ",") {
		key, dir, ok := strings.Cut(part, ":")
		if !ok {
			return spec, fmt.Errorf("malformed index keys %q", s)
		}
		d, err := strconv.Atoi(dir)
		if err != nil {
			return spec, fmt.Errorf("malformed index keys %q: %w", s, err)
		}
		spec.Keys = append(spec.Keys, driver.SortKey{Key: key, Direction: d})
	}
	return spec, nil
}
