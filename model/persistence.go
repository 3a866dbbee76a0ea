package model

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/keys"
)

// BeforeSaver is implemented by documents that act before being stored.
type BeforeSaver interface {
	BeforeSave(ctx context.Context) error
}

// AfterSaver is implemented by documents that act after being stored.
type AfterSaver interface {
	AfterSave(ctx context.Context) error
}

// BeforeDestroyer is implemented by documents that act before Destroy.
type BeforeDestroyer interface {
	BeforeDestroy(ctx context.Context) error
}

// AfterDestroyer is implemented by documents that act after Destroy.
type AfterDestroyer interface {
	AfterDestroy(ctx context.Context) error
}

// Hook is a per-model callback.
type Hook[T any] func(ctx context.Context, doc *T) error

type hooks[T any] struct {
	beforeSave    []Hook[T]
	afterSave     []Hook[T]
	beforeDestroy []Hook[T]
	afterDestroy  []Hook[T]
}

// BeforeSave registers a hook run before every save, after the document's
// own BeforeSave.
func (m *Model[T]) BeforeSave(fn Hook[T]) {
	m.mu.Lock()
	m.hooks.beforeSave = append(m.hooks.beforeSave, fn)
	m.mu.Unlock()
}

// AfterSave registers a hook run after every save.
func (m *Model[T]) AfterSave(fn Hook[T]) {
	m.mu.Lock()
	m.hooks.afterSave = append(m.hooks.afterSave, fn)
	m.mu.Unlock()
}

// BeforeDestroy registers a hook run before every Destroy. Delete skips it.
func (m *Model[T]) BeforeDestroy(fn Hook[T]) {
	m.mu.Lock()
	m.hooks.beforeDestroy = append(m.hooks.beforeDestroy, fn)
	m.mu.Unlock()
}

// AfterDestroy registers a hook run after every Destroy. Delete skips it.
func (m *Model[T]) AfterDestroy(fn Hook[T]) {
	m.mu.Lock()
	m.hooks.afterDestroy = append(m.hooks.afterDestroy, fn)
	m.mu.Unlock()
}

func (m *Model[T]) run(ctx context.Context, doc *T, own func() error, fns []Hook[T]) error {
	if own != nil {
		if err := own(); err != nil {
			return err
		}
	}
	m.mu.RLock()
	fns = append([]Hook[T](nil), fns...)
	m.mu.RUnlock()
	for _, fn := range fns {
		if err := fn(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Validate runs the key validators and, when T implements
// validation.Validatable, its own Validate. Failures are returned as a
// *ValidationError.
func (m *Model[T]) Validate(doc *T) error {
	d := docOf(doc)
	errs := validation.Errors{}

	if err := d.meta.registry.Validate(d.Attributes()); err != nil {
		var ve validation.Errors
		if !errors.As(err, &ve) {
			return err
		}
		for k, v := range ve {
			errs[k] = v
		}
	}

	if v, ok := any(doc).(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			var ve validation.Errors
			if !errors.As(err, &ve) {
				return err
			}
			for k, v := range ve {
				errs[k] = v
			}
		}
	}

	if err := errs.Filter(); err != nil {
		return &ValidationError{Model: d.meta.name, Errors: err.(validation.Errors)}
	}
	return nil
}

// Save validates and stores doc: an insert the first time, a replacement by
// id afterwards. The instance is then mapped in the identity map.
func (m *Model[T]) Save(ctx context.Context, doc *T) error {
	d := docOf(doc)
	if d.meta == nil {
		return ErrDetached
	}
	if d.meta != m.meta {
		return d.meta.persister.saveAny(ctx, d.owner)
	}

	if err := m.Validate(doc); err != nil {
		return err
	}

	var own func() error
	if cb, ok := any(doc).(BeforeSaver); ok {
		own = func() error { return cb.BeforeSave(ctx) }
	}
	if err := m.run(ctx, doc, own, m.hooks.beforeSave); err != nil {
		return err
	}

	if d.id == nil {
		d.id = m.newID()
	}
	raw := d.storage()

	var err error
	if d.persisted {
		_, err = m.coll.Update(ctx, bson.M{keys.IDKey: raw[keys.IDKey]}, raw, driver.UpdateOptions{Upsert: true})
	} else {
		_, err = m.coll.Insert(ctx, raw)
	}
	if err != nil {
		return err
	}
	d.persisted = true
	d.destroyed = false

	if err := m.identityMap(ctx).Put(ctx, m.meta.tree.root, d.id, d.owner); err != nil {
		return err
	}

	own = nil
	if cb, ok := any(doc).(AfterSaver); ok {
		own = func() error { return cb.AfterSave(ctx) }
	}
	return m.run(ctx, doc, own, m.hooks.afterSave)
}

// Create builds an instance from attrs and saves it. The instance is
// returned even when saving fails so callers can inspect it.
func (m *Model[T]) Create(ctx context.Context, attrs map[string]any) (*T, error) {
	doc := m.New()
	if err := docOf(doc).SetAttributes(attrs); err != nil {
		return doc, err
	}
	return doc, m.Save(ctx, doc)
}

// Update loads the document with id, assigns attrs and saves it. An empty
// id or nil attrs fail with an *ArgumentError.
func (m *Model[T]) Update(ctx context.Context, id any, attrs map[string]any) (*T, error) {
	if id == nil || id == "" {
		return nil, &ArgumentError{Op: "update", Message: "an id is required"}
	}
	if attrs == nil {
		return nil, &ArgumentError{Op: "update", Message: "attributes must be a map"}
	}

	doc, err := m.Query().MustFindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := docOf(doc).SetAttributes(attrs); err != nil {
		return doc, err
	}
	return doc, m.Save(ctx, doc)
}

// Destroy removes doc running the before and after destroy callbacks.
func (m *Model[T]) Destroy(ctx context.Context, doc *T) error {
	d := docOf(doc)
	if d.meta == nil {
		return ErrDetached
	}
	if d.meta != m.meta {
		return d.meta.persister.destroyAny(ctx, d.owner)
	}

	var own func() error
	if cb, ok := any(doc).(BeforeDestroyer); ok {
		own = func() error { return cb.BeforeDestroy(ctx) }
	}
	if err := m.run(ctx, doc, own, m.hooks.beforeDestroy); err != nil {
		return err
	}

	if err := m.Delete(ctx, doc); err != nil {
		return err
	}

	own = nil
	if cb, ok := any(doc).(AfterDestroyer); ok {
		own = func() error { return cb.AfterDestroy(ctx) }
	}
	return m.run(ctx, doc, own, m.hooks.afterDestroy)
}

// Delete removes doc without callbacks and drops its identity map entry.
func (m *Model[T]) Delete(ctx context.Context, doc *T) error {
	d := docOf(doc)
	if d.meta == nil {
		return ErrDetached
	}
	if d.id != nil {
		if _, err := m.coll.Remove(ctx, bson.M{keys.IDKey: d.meta.idType.Dump(d.id)}); err != nil {
			return err
		}
		if err := m.identityMap(ctx).Remove(ctx, m.meta.tree.root, d.id); err != nil {
			return err
		}
	}
	d.destroyed = true
	return nil
}

// Reload replaces doc's attributes with the stored document. It fails with
// a *NotFoundError when the document is gone.
func (m *Model[T]) Reload(ctx context.Context, doc *T) error {
	d := docOf(doc)
	if d.meta == nil {
		return ErrDetached
	}
	raw, err := m.coll.FindOne(ctx, bson.M{keys.IDKey: d.meta.idType.Dump(d.id)}, nil)
	if err != nil {
		return err
	}
	if raw == nil {
		return &NotFoundError{Model: d.meta.name, IDs: []any{d.id}}
	}
	return d.hydrate(raw)
}

func (m *Model[T]) saveAny(ctx context.Context, v any) error    { return m.Save(ctx, v.(*T)) }
func (m *Model[T]) destroyAny(ctx context.Context, v any) error { return m.Destroy(ctx, v.(*T)) }
func (m *Model[T]) deleteAny(ctx context.Context, v any) error  { return m.Delete(ctx, v.(*T)) }
func (m *Model[T]) reloadAny(ctx context.Context, v any) error  { return m.Reload(ctx, v.(*T)) }
