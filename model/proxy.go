package model

import (
	"context"
	"iter"
)

// The methods below start a query on the model.

func (m *Model[T]) Where(args ...any) *Query[T]      { return m.Query().Where(args...) }
func (m *Model[T]) Fields(names ...string) *Query[T] { return m.Query().Fields(names...) }
func (m *Model[T]) Ignore(names ...string) *Query[T] { return m.Query().Ignore(names...) }
func (m *Model[T]) Sort(specs ...any) *Query[T]      { return m.Query().Sort(specs...) }
func (m *Model[T]) Limit(n int) *Query[T]            { return m.Query().Limit(n) }
func (m *Model[T]) Skip(n int) *Query[T]             { return m.Query().Skip(n) }

func (m *Model[T]) Paginate(perPage, page int) *Query[T] {
	return m.Query().Paginate(perPage, page)
}

func (m *Model[T]) All(ctx context.Context) ([]*T, error)  { return m.Query().All(ctx) }
func (m *Model[T]) First(ctx context.Context) (*T, error)  { return m.Query().First(ctx) }
func (m *Model[T]) Last(ctx context.Context) (*T, error)   { return m.Query().Last(ctx) }
func (m *Model[T]) Count(ctx context.Context) (int, error) { return m.Query().Count(ctx) }

func (m *Model[T]) Exists(ctx context.Context) (bool, error) { return m.Query().Exists(ctx) }

func (m *Model[T]) Find(ctx context.Context, ids ...any) ([]*T, error) {
	return m.Query().Find(ctx, ids...)
}

func (m *Model[T]) FindOne(ctx context.Context, id any) (*T, error) {
	return m.Query().FindOne(ctx, id)
}

func (m *Model[T]) MustFind(ctx context.Context, ids ...any) ([]*T, error) {
	return m.Query().MustFind(ctx, ids...)
}

func (m *Model[T]) MustFindOne(ctx context.Context, id any) (*T, error) {
	return m.Query().MustFindOne(ctx, id)
}

func (m *Model[T]) FindEach(ctx context.Context) iter.Seq2[*T, error] {
	return m.Query().FindEach(ctx)
}

func (m *Model[T]) DeleteAll(ctx context.Context) (int, error) { return m.Query().DeleteAll(ctx) }

func (m *Model[T]) DestroyAll(ctx context.Context) (int, error) { return m.Query().DestroyAll(ctx) }

// DeleteIDs removes the documents with ids without callbacks.
func (m *Model[T]) DeleteIDs(ctx context.Context, ids ...any) (int, error) {
	return m.Query().Delete(ctx, ids...)
}

// DestroyIDs destroys the documents with ids, failing if any is missing.
func (m *Model[T]) DestroyIDs(ctx context.Context, ids ...any) (int, error) {
	return m.Query().Destroy(ctx, ids...)
}
