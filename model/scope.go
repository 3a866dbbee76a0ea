package model

import (
	"context"
	"fmt"
	"sort"

	"github.com/goliatone/go-odm/keys"
)

// ScopeFunc builds a reusable query fragment. It receives an empty query
// on the model; the fragment it returns is merged into the calling query.
type ScopeFunc[T any] func(q *Query[T], args ...any) *Query[T]

// MethodFunc is a class-level method reachable through Call. When it
// returns a *Query[T] the result is merged into the calling query,
// otherwise the value is handed back as is.
type MethodFunc[T any] func(ctx context.Context, q *Query[T], args ...any) (any, error)

// Result is what Call produces: either a query that can be chained further,
// or a plain value that ends the chain.
type Result[T any] struct {
	Query *Query[T]
	Value any
}

// IsQuery reports whether the result is chainable.
func (r Result[T]) IsQuery() bool { return r.Query != nil }

// Scope registers a named scope. Registering a name again replaces it.
func (m *Model[T]) Scope(name string, fn ScopeFunc[T]) error {
	if name == "" || fn == nil {
		return &keys.InvalidKeyError{Model: m.meta.name, Key: name, Reason: "scope needs a name and a function"}
	}
	m.mu.Lock()
	m.scopes[name] = fn
	m.mu.Unlock()
	return nil
}

// ScopeWhere registers a scope that adds fixed criteria.
func (m *Model[T]) ScopeWhere(name string, args ...any) error {
	return m.Scope(name, func(q *Query[T], _ ...any) *Query[T] {
		return q.Where(args...)
	})
}

// Method registers a class-level method.
func (m *Model[T]) Method(name string, fn MethodFunc[T]) error {
	if name == "" || fn == nil {
		return &keys.InvalidKeyError{Model: m.meta.name, Key: name, Reason: "method needs a name and a function"}
	}
	m.mu.Lock()
	m.methods[name] = fn
	m.mu.Unlock()
	return nil
}

// Scopes lists the registered scope names, sorted.
func (m *Model[T]) Scopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.scopes))
	for n := range m.scopes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Model[T]) scope(name string) (ScopeFunc[T], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.scopes[name]
	return fn, ok
}

func (m *Model[T]) method(name string) (MethodFunc[T], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.methods[name]
	return fn, ok
}

// Scope applies a named scope. An unknown name is recorded as a
// *NoMethodError returned by the next kicker.
func (q *Query[T]) Scope(name string, args ...any) *Query[T] {
	fn, ok := q.model.scope(name)
	if !ok {
		return q.fail(&NoMethodError{Model: q.model.Name(), Name: name})
	}
	return q.Merge(fn(q.model.Query(), args...))
}

// Call resolves name against, in order, the scopes, the registered methods
// and the dynamic finders of the model.
func (q *Query[T]) Call(ctx context.Context, name string, args ...any) (Result[T], error) {
	if _, ok := q.model.scope(name); ok {
		merged := q.Scope(name, args...)
		return Result[T]{Query: merged}, merged.err
	}

	if fn, ok := q.model.method(name); ok {
		v, err := fn(ctx, q, args...)
		if err != nil {
			return Result[T]{}, err
		}
		if sub, ok := v.(*Query[T]); ok {
			merged := q.Merge(sub)
			return Result[T]{Query: merged}, merged.err
		}
		return Result[T]{Value: v}, nil
	}

	if f, ok := ParseFinder(name, q.model.finderFields()); ok {
		v, err := q.runFinder(ctx, f, args)
		if err != nil {
			return Result[T]{}, err
		}
		return Result[T]{Value: v}, nil
	}

	return Result[T]{}, &NoMethodError{Model: q.model.Name(), Name: name}
}

// Call is Query().Call.
func (m *Model[T]) Call(ctx context.Context, name string, args ...any) (Result[T], error) {
	return m.Query().Call(ctx, name, args...)
}

// Scoped is Query().Scope.
func (m *Model[T]) Scoped(name string, args ...any) *Query[T] {
	return m.Query().Scope(name, args...)
}

func (m *Model[T]) String() string {
	return fmt.Sprintf("Model(%s)", m.meta.name)
}
