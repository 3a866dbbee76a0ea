package model

import (
	"fmt"
	"reflect"
	"sync"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/keys"
)

// loader builds a hydrated instance of one concrete model.
type loader interface {
	instantiate(raw bson.M) (any, error)
}

// hierarchy is shared by every model stored in one collection: a root and
// the subtypes defined with Subtype, discriminated by TypeKey.
type hierarchy struct {
	mu          sync.RWMutex
	root        string
	polymorphic bool
	parents     map[string]string
	loaders     map[string]loader
	order       []string
}

func newHierarchy(root string, l loader) *hierarchy {
	return &hierarchy{
		root:    root,
		parents: map[string]string{},
		loaders: map[string]loader{root: l},
		order:   []string{root},
	}
}

func (h *hierarchy) add(name, parent string, l loader) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.loaders[name]; exists {
		return &keys.InvalidKeyError{Model: name, Key: TypeKey, Reason: fmt.Sprintf("type %s already defined in the %s hierarchy", name, h.root)}
	}
	h.parents[name] = parent
	h.loaders[name] = l
	h.order = append(h.order, name)
	h.polymorphic = true
	return nil
}

func (h *hierarchy) isPolymorphic() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.polymorphic
}

// resolve returns the loader registered for a type tag.
func (h *hierarchy) resolve(tag string) (loader, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.loaders[tag]
	return l, ok
}

// isA reports whether name is ancestor or one of its descendants.
func (h *hierarchy) isA(name, ancestor string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for seen := 0; seen <= len(h.order); seen++ {
		if name == ancestor {
			return true
		}
		parent, ok := h.parents[name]
		if !ok {
			return false
		}
		name = parent
	}
	return false
}

// family lists name followed by every descendant in definition order.
func (h *hierarchy) family(name string) []string {
	out := []string{name}
	h.mu.RLock()
	order := append([]string(nil), h.order...)
	h.mu.RUnlock()
	for _, n := range order {
		if n != name && h.isA(n, name) {
			out = append(out, n)
		}
	}
	return out
}

// Subtype defines T as a subtype of parent stored in the parent's
// collection. T must embed P. Documents saved through the subtype carry
// TypeKey; queries through it only match its own family, while queries
// through the parent load each document as its concrete type and return it
// as a *P.
//
// Keys, validators and static-key mode are inherited; scopes, methods and
// hooks are not.
func Subtype[T, P any](parent *Model[P], opts ...Option) (*Model[T], error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	pt := reflect.TypeOf((*P)(nil)).Elem()
	if _, ok := embeddedPath(rt, pt); !ok || rt == pt {
		return nil, fmt.Errorf("model: %s must embed %s to be its subtype", rt, pt)
	}

	s := parent.settings
	s.name = rt.Name()
	s.identityMapSet = false
	for _, opt := range opts {
		opt(&s)
	}
	if !s.identityMapSet {
		s.identityMap = parent.imap
	}

	registry := parent.meta.registry.Clone(s.name)
	fields, err := registerFields(rt, registry)
	if err != nil {
		return nil, err
	}

	m := newModel[T](s, parent.coll, &meta{
		name:     s.name,
		registry: registry,
		rtype:    rt,
		fields:   fields,
		idType:   parent.meta.idType,
		tree:     parent.meta.tree,
	})
	if err := m.meta.tree.add(s.name, parent.meta.name, m); err != nil {
		return nil, err
	}
	return m, nil
}
