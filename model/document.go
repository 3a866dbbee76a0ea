package model

import (
	"context"
	"fmt"
	"reflect"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/keys"
)

// TypeKey is the storage key holding the concrete type name of documents in
// a single collection hierarchy.
const TypeKey = "_type"

// Document is embedded by every model struct. It holds the id, the
// persistence state and the attributes that have no struct field.
//
//	type User struct {
//		model.Document
//		FirstName string `odm:"first_name,alias=f,required"`
//		Age       int    `odm:"age"`
//	}
type Document struct {
	id        any
	attrs     map[string]any
	typeTag   string
	persisted bool
	destroyed bool

	meta  *meta
	owner any // pointer to the concrete struct embedding this Document
}

type documentHolder interface {
	document() *Document
}

func (d *Document) document() *Document { return d }

// ID returns the document id.
func (d *Document) ID() any { return d.id }

// SetID replaces the id, casting it to the model's id type when possible.
func (d *Document) SetID(id any) {
	if d.meta != nil {
		id = d.meta.castID(id)
	}
	d.id = id
}

// IsNew reports whether the document has never been saved or loaded.
func (d *Document) IsNew() bool { return !d.persisted }

// Persisted reports whether the document is stored and not destroyed.
func (d *Document) Persisted() bool { return d.persisted && !d.destroyed }

// Destroyed reports whether Destroy or Delete removed the document.
func (d *Document) Destroyed() bool { return d.destroyed }

// TypeName returns the concrete model name, or "" for a detached document.
func (d *Document) TypeName() string {
	if d.meta == nil {
		return ""
	}
	return d.meta.name
}

// Get reads an attribute by key name or accessor. On a static-key model an
// undeclared name fails with a *keys.MissingKeyError; otherwise it reads the
// dynamic attribute, which is nil when never set.
func (d *Document) Get(name string) (any, error) {
	if isIDName(name) {
		return d.id, nil
	}
	if d.meta == nil {
		return d.attrs[name], nil
	}
	if err := d.meta.registry.CheckKey(name); err != nil {
		return nil, err
	}

	if k, ok := d.meta.registry.Key(name); ok {
		if field, ok := d.field(k.Name); ok {
			return field.Interface(), nil
		}
		return d.attrs[k.Name], nil
	}
	return d.attrs[name], nil
}

// Set writes an attribute. Declared keys are cast to their type and land in
// the struct field when there is one. Undeclared names become dynamic
// attributes, or fail with a *keys.MissingKeyError on a static-key model.
func (d *Document) Set(name string, value any) error {
	if isIDName(name) {
		d.SetID(value)
		return nil
	}
	if d.meta == nil {
		d.setAttr(name, value)
		return nil
	}
	if err := d.meta.registry.CheckKey(name); err != nil {
		return err
	}

	k, ok := d.meta.registry.Key(name)
	if !ok {
		d.setAttr(name, value)
		return nil
	}

	v, err := k.Type.Cast(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", k.Name, err)
	}
	if field, ok := d.field(k.Name); ok {
		if err := assign(field, v); err != nil {
			return fmt.Errorf("set %s: %w", k.Name, err)
		}
		return nil
	}
	d.setAttr(k.Name, v)
	return nil
}

// SetAttributes assigns every entry of attrs. On a static-key model the
// whole call fails before anything is written if one name is undeclared.
func (d *Document) SetAttributes(attrs map[string]any) error {
	if d.meta != nil {
		for name := range attrs {
			if isIDName(name) {
				continue
			}
			if err := d.meta.registry.CheckKey(name); err != nil {
				return err
			}
		}
	}
	for name, v := range attrs {
		if err := d.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Attributes returns every declared and dynamic attribute keyed by logical
// name, plus "_id".
func (d *Document) Attributes() map[string]any {
	out := make(map[string]any, len(d.attrs)+1)
	for k, v := range d.attrs {
		out[k] = v
	}
	if d.meta != nil {
		for _, k := range d.meta.registry.Keys() {
			if k.Name == keys.IDKey {
				continue
			}
			v, _ := d.Get(k.Name)
			out[k.Name] = v
		}
	}
	out[keys.IDKey] = d.id
	return out
}

// Save stores the document through its model.
func (d *Document) Save(ctx context.Context) error {
	if d.meta == nil || d.meta.persister == nil {
		return ErrDetached
	}
	return d.meta.persister.saveAny(ctx, d.owner)
}

// Destroy removes the document running its destroy callbacks.
func (d *Document) Destroy(ctx context.Context) error {
	if d.meta == nil || d.meta.persister == nil {
		return ErrDetached
	}
	return d.meta.persister.destroyAny(ctx, d.owner)
}

// Delete removes the document without callbacks.
func (d *Document) Delete(ctx context.Context) error {
	if d.meta == nil || d.meta.persister == nil {
		return ErrDetached
	}
	return d.meta.persister.deleteAny(ctx, d.owner)
}

// Reload replaces the attributes with the stored ones.
func (d *Document) Reload(ctx context.Context) error {
	if d.meta == nil || d.meta.persister == nil {
		return ErrDetached
	}
	return d.meta.persister.reloadAny(ctx, d.owner)
}

func (d *Document) setAttr(name string, v any) {
	if d.attrs == nil {
		d.attrs = make(map[string]any)
	}
	d.attrs[name] = v
}

func (d *Document) field(name string) (reflect.Value, bool) {
	path, ok := d.meta.fields[name]
	if !ok || d.owner == nil {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(d.owner).Elem().FieldByIndex(path), true
}

// storage renders the document as a storage-keyed driver document.
func (d *Document) storage() bson.M {
	doc := bson.M{}
	if d.id != nil {
		doc[keys.IDKey] = d.meta.idType.Dump(d.id)
	}

	registry := d.meta.registry
	for _, k := range registry.Keys() {
		if k.Name == keys.IDKey {
			continue
		}
		v, _ := d.Get(k.Name)
		doc[k.StorageKey] = k.Type.Dump(v)
	}
	for name, v := range d.attrs {
		if !registry.Has(name) {
			doc[name] = v
		}
	}
	if d.typeTag != "" {
		doc[TypeKey] = d.typeTag
	}
	return doc
}

// hydrate replaces the state with a raw stored document, mapping storage
// keys back to logical names. Undeclared keys are dropped on static-key
// models.
func (d *Document) hydrate(raw bson.M) error {
	registry := d.meta.registry
	d.attrs = make(map[string]any)
	for _, path := range d.meta.fields {
		field := reflect.ValueOf(d.owner).Elem().FieldByIndex(path)
		field.Set(reflect.Zero(field.Type()))
	}

	for storageKey, v := range raw {
		switch storageKey {
		case keys.IDKey:
			d.id = d.meta.castID(v)
			continue
		case TypeKey:
			if s, ok := v.(string); ok {
				d.typeTag = s
			}
			continue
		}

		name := registry.NameFor(storageKey)
		k, ok := registry.Key(name)
		if !ok {
			if !registry.Static() {
				d.attrs[name] = v
			}
			continue
		}

		cv, err := k.Type.Cast(v)
		if err != nil {
			cv = v
		}
		if field, ok := d.field(k.Name); ok {
			if err := assign(field, cv); err != nil {
				return fmt.Errorf("load %s.%s: %w", d.meta.name, k.Name, err)
			}
			continue
		}
		d.attrs[k.Name] = cv
	}

	d.persisted = true
	d.destroyed = false
	return nil
}

func isIDName(name string) bool {
	return name == keys.IDKey || name == "id"
}

func docOf(v any) *Document {
	if h, ok := v.(documentHolder); ok {
		return h.document()
	}
	return nil
}
