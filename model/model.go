// Package model binds Go structs to collections. A Model[T] owns the key
// registry of T, builds instances, persists them and hands out typed
// queries that load raw documents back into *T.
//
//	users, err := model.Define[User](db, model.WithIdentityMap(im))
//	ann, err := users.Where(criteria.F("age").Gt().Is(30)).First(ctx)
//
// Models also carry named scopes, a table of class-level methods reachable
// through Call, dynamic finders such as "find_by_first_name_and_age", and
// single collection inheritance through Subtype.
package model

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/identitymap"
	"github.com/goliatone/go-odm/keys"
	"github.com/goliatone/go-odm/query"
)

type settings struct {
	name           string
	collection     string
	static         bool
	idType         keys.Type
	identityMap    *identitymap.Map
	identityMapSet bool
	logger         zerolog.Logger
	batchSize      int
}

// Option configures Define and Subtype.
type Option func(*settings)

// WithName overrides the model name, which defaults to the struct name.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithCollection overrides the collection name, which defaults to the
// pluralised snake case model name.
func WithCollection(name string) Option {
	return func(s *settings) { s.collection = name }
}

// WithStaticKeys makes undeclared attribute access fail with
// *keys.MissingKeyError.
func WithStaticKeys() Option {
	return func(s *settings) { s.static = true }
}

// WithUUIDIDs generates random UUIDs instead of ObjectIds.
func WithUUIDIDs() Option {
	return func(s *settings) { s.idType = keys.TypeUUID }
}

// WithIdentityMap sets the identity map consulted when no map is found in
// the context.
func WithIdentityMap(m *identitymap.Map) Option {
	return func(s *settings) {
		s.identityMap = m
		s.identityMapSet = true
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithBatchSize sets the page size FindEach uses.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.batchSize = n }
}

// Model is the typed entry point for one document type.
type Model[T any] struct {
	settings settings
	meta     *meta
	coll     driver.Collection
	imap     *identitymap.Map
	logger   zerolog.Logger

	mu      sync.RWMutex
	scopes  map[string]ScopeFunc[T]
	methods map[string]MethodFunc[T]
	hooks   hooks[T]
}

// Define builds the model for T, a struct embedding Document, stored in a
// collection of db. Keys are declared from the exported fields of T using
// the odm struct tag; fields without a tag use their snake case name.
func Define[T any](db driver.Database, opts ...Option) (*Model[T], error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() != reflect.Struct || !embedsDocument(rt) {
		return nil, fmt.Errorf("model: %s must be a struct embedding model.Document", rt)
	}

	s := settings{
		name:      rt.Name(),
		idType:    keys.TypeObjectID,
		logger:    zerolog.Nop(),
		batchSize: query.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.collection == "" {
		s.collection = CollectionName(s.name)
	}

	registry := keys.NewRegistry(s.name, keys.WithLogger(s.logger), keys.WithStatic(s.static))
	if _, err := registry.Register(keys.IDKey, s.idType, keys.Options{}); err != nil {
		return nil, err
	}
	fields, err := registerFields(rt, registry)
	if err != nil {
		return nil, err
	}

	m := newModel[T](s, db.Collection(s.collection), &meta{
		name:     s.name,
		registry: registry,
		rtype:    rt,
		fields:   fields,
		idType:   s.idType,
	})
	m.meta.tree = newHierarchy(s.name, m)
	return m, nil
}

func newModel[T any](s settings, coll driver.Collection, mt *meta) *Model[T] {
	m := &Model[T]{
		settings: s,
		meta:     mt,
		coll:     coll,
		imap:     s.identityMap,
		logger:   s.logger.With().Str("model", s.name).Logger(),
		scopes:   make(map[string]ScopeFunc[T]),
		methods:  make(map[string]MethodFunc[T]),
	}
	mt.persister = m
	if s.static {
		mt.registry.SetStatic(true)
	}
	return m
}

// Name returns the model name.
func (m *Model[T]) Name() string { return m.meta.name }

// Collection returns the backing collection.
func (m *Model[T]) Collection() driver.Collection { return m.coll }

// Registry returns the key registry.
func (m *Model[T]) Registry() *keys.Registry { return m.meta.registry }

// IdentityMap returns the configured identity map, which may be nil.
func (m *Model[T]) IdentityMap() *identitymap.Map { return m.imap }

// SetIdentityMap replaces the configured identity map.
func (m *Model[T]) SetIdentityMap(im *identitymap.Map) { m.imap = im }

// Key declares a key with no struct field; its value lives in the
// document's attribute map.
func (m *Model[T]) Key(name string, typ keys.Type, opts keys.Options) (*keys.Key, error) {
	return m.meta.registry.Register(name, typ, opts)
}

// RemoveKey undeclares a key and the validators attached to it.
func (m *Model[T]) RemoveKey(name string) bool {
	if _, ok := m.meta.fields[name]; ok {
		return false
	}
	return m.meta.registry.Remove(name)
}

// New builds an unsaved instance with a fresh id and key defaults applied.
func (m *Model[T]) New() *T {
	t, d := m.blank()
	d.id = m.newID()
	return t
}

func (m *Model[T]) blank() (*T, *Document) {
	t := new(T)
	d := docOf(t)
	d.meta = m.meta
	d.owner = t
	d.attrs = make(map[string]any)
	if m.meta.tree.isPolymorphic() {
		d.typeTag = m.meta.name
	}

	for _, k := range m.meta.registry.Keys() {
		if k.Options.Default == nil {
			continue
		}
		if current, _ := d.Get(k.Name); current != nil && !reflect.ValueOf(current).IsZero() {
			continue
		}
		_ = d.Set(k.Name, k.DefaultValue())
	}
	return t, d
}

func (m *Model[T]) newID() any {
	if m.meta.idType == keys.TypeUUID {
		return uuid.New()
	}
	return bson.NewObjectId()
}

// instantiate implements loader.
func (m *Model[T]) instantiate(raw bson.M) (any, error) {
	t, d := m.blank()
	if err := d.hydrate(raw); err != nil {
		return nil, err
	}
	return t, nil
}

// materialize builds the instance for raw, resolving its concrete type from
// TypeKey. Unknown tags, or tags outside this model's family, fall back to
// T itself.
func (m *Model[T]) materialize(raw bson.M) (any, error) {
	tag, _ := raw[TypeKey].(string)
	if tag == "" || tag == m.meta.name {
		return m.instantiate(raw)
	}

	if l, ok := m.meta.tree.resolve(tag); ok && m.meta.tree.isA(tag, m.meta.name) {
		return l.instantiate(raw)
	}

	m.logger.Debug().Str("type", tag).Msg("unresolved type tag, loading as base type")
	return m.instantiate(raw)
}

// load turns a raw document into a *T, going through the identity map
// unless the document was loaded with a partial projection.
func (m *Model[T]) load(ctx context.Context, raw bson.M, partial bool) (*T, error) {
	im := m.identityMap(ctx)
	id := m.meta.castID(raw[keys.IDKey])
	mapped := !partial && id != nil && im.Enabled()

	if mapped {
		if v, ok := im.Get(ctx, m.meta.tree.root, id); ok {
			if t, ok := upcast[T](v); ok && !docOf(t).Destroyed() {
				return t, nil
			}
		}
	}

	inst, err := m.materialize(raw)
	if err != nil {
		return nil, err
	}
	t, ok := upcast[T](inst)
	if !ok {
		return nil, fmt.Errorf("model: %T is not a %s", inst, m.meta.name)
	}

	if mapped {
		if err := im.Put(ctx, m.meta.tree.root, id, inst); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// cached returns the mapped instance for id when the map is enabled.
func (m *Model[T]) cached(ctx context.Context, id any) (*T, bool) {
	im := m.identityMap(ctx)
	if !im.Enabled() {
		return nil, false
	}
	v, ok := im.Get(ctx, m.meta.tree.root, m.meta.castID(id))
	if !ok {
		return nil, false
	}
	t, ok := upcast[T](v)
	if !ok || docOf(t).Destroyed() {
		return nil, false
	}
	return t, true
}

// fetch serves id through the enabled identity map im. On a miss find
// loads the raw document, which is materialized and mapped. A mapped
// instance that has been destroyed is dropped first. A mapped instance
// outside T's branch of the hierarchy is reported as not found.
func (m *Model[T]) fetch(ctx context.Context, im *identitymap.Map, id any, find func(context.Context) (driver.Doc, error)) (*T, error) {
	root := m.meta.tree.root
	id = m.meta.castID(id)

	if v, ok := im.Get(ctx, root, id); ok {
		if t, ok := upcast[T](v); ok && docOf(t).Destroyed() {
			if err := im.Remove(ctx, root, id); err != nil {
				return nil, err
			}
		}
	}

	v, err := identitymap.Fetch(ctx, im, root, id, func(ctx context.Context) (any, error) {
		raw, err := find(ctx)
		if err != nil || raw == nil {
			return nil, err
		}
		return m.materialize(raw)
	})
	if err != nil || v == nil {
		return nil, err
	}
	t, ok := upcast[T](v)
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (m *Model[T]) identityMap(ctx context.Context) *identitymap.Map {
	if im, ok := identitymap.FromContext(ctx); ok {
		return im
	}
	return m.imap
}

// Query returns an empty query over the model. Subtypes restrict it to
// their own family.
func (m *Model[T]) Query() *Query[T] {
	raw := query.New(m.coll,
		query.WithSchema(m.meta.registry),
		query.WithLogger(m.logger),
		query.WithBatchSize(m.settings.batchSize),
	)
	if m.meta.name != m.meta.tree.root {
		raw = raw.Where(criteria.F(TypeKey).In().Is(m.meta.tree.family(m.meta.name)))
	}
	return &Query[T]{model: m, raw: raw}
}

// CriteriaHash returns the storage-keyed criteria args translate to.
func (m *Model[T]) CriteriaHash(args ...any) (bson.M, error) {
	q := m.Query().Where(args...)
	return q.Criteria(), q.Err()
}

// EnsureIndexes issues the index requests queued by key declarations.
func (m *Model[T]) EnsureIndexes(ctx context.Context) error {
	for _, req := range m.meta.registry.IndexRequests() {
		spec := driver.IndexSpec{Keys: []driver.SortKey{{Key: req.Key, Direction: 1}}}
		if err := m.coll.CreateIndex(ctx, spec, driver.IndexOptions{Unique: req.Unique}); err != nil {
			return err
		}
	}
	return nil
}

// DropIndex drops one index by name.
func (m *Model[T]) DropIndex(ctx context.Context, name string) error {
	return m.coll.DropIndex(ctx, name)
}

// DropIndexes drops every index except the one on _id.
func (m *Model[T]) DropIndexes(ctx context.Context) error {
	return m.coll.DropIndexes(ctx)
}

// Indexes lists the collection indexes.
func (m *Model[T]) Indexes(ctx context.Context) ([]driver.IndexInfo, error) {
	return m.coll.Indexes(ctx)
}
