package query

import (
	"context"

	"github.com/goliatone/go-odm/driver"
)

// Page is one page of results with totals.
type Page[T any] struct {
	Items       []T
	Total       int
	TotalPages  int
	CurrentPage int
	PerPage     int
}

// NewPage computes the page metadata for items fetched with the given
// window.
func NewPage[T any](items []T, total, perPage, skip int) Page[T] {
	p := Page[T]{Items: items, Total: total, PerPage: perPage, CurrentPage: 1}
	if perPage > 0 {
		p.TotalPages = (total + perPage - 1) / perPage
		p.CurrentPage = skip/perPage + 1
	} else if total > 0 {
		p.TotalPages = 1
	}
	return p
}

// Page runs the query and counts the full match set. Use it after Paginate.
func (q *Query) Page(ctx context.Context) (Page[driver.Doc], error) {
	docs, err := q.All(ctx)
	if err != nil {
		return Page[driver.Doc]{}, err
	}
	total, err := q.Count(ctx)
	if err != nil {
		return Page[driver.Doc]{}, err
	}
	return NewPage(docs, total, q.state.Limit, q.state.Skip), nil
}
