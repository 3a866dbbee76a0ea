package model

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/keys"
)

// FinderKind is the action of a dynamic finder.
type FinderKind int

const (
	FindFirst FinderKind = iota
	FindAll
	FindOrInitialize
	FindOrCreate
)

var finderPrefixes = []struct {
	prefix string
	kind   FinderKind
}{
	{"find_or_initialize_by_", FindOrInitialize},
	{"find_or_create_by_", FindOrCreate},
	{"find_all_by_", FindAll},
	{"find_by_", FindFirst},
}

// Finder is a parsed dynamic finder name.
type Finder struct {
	Kind   FinderKind
	Fields []string
	Strict bool
}

// ParseFinder parses names such as "find_by_first_name_and_age!" against
// the known field names. Compound names are split longest field first, so
// "find_by_first_name" resolves to first_name even when name is also a
// field. "id" refers to _id.
func ParseFinder(name string, fields []string) (Finder, bool) {
	var f Finder
	rest := name
	matched := false
	for _, p := range finderPrefixes {
		if strings.HasPrefix(rest, p.prefix) {
			f.Kind = p.kind
			rest = strings.TrimPrefix(rest, p.prefix)
			matched = true
			break
		}
	}
	if !matched {
		return f, false
	}

	if strings.HasSuffix(rest, "!") {
		if f.Kind != FindFirst {
			return f, false
		}
		f.Strict = true
		rest = strings.TrimSuffix(rest, "!")
	}

	known := append([]string(nil), fields...)
	sort.SliceStable(known, func(i, j int) bool { return len(known[i]) > len(known[j]) })

	parts, ok := splitFinderFields(rest, known)
	if !ok {
		return f, false
	}
	f.Fields = parts
	return f, true
}

func splitFinderFields(rest string, known []string) ([]string, bool) {
	if rest == "" {
		return nil, false
	}
	for _, k := range known {
		if rest == k {
			return []string{k}, true
		}
		if strings.HasPrefix(rest, k+"_and_") {
			if tail, ok := splitFinderFields(rest[len(k)+len("_and_"):], known); ok {
				return append([]string{k}, tail...), true
			}
		}
	}
	return nil, false
}

func (m *Model[T]) finderFields() []string {
	names := []string{"id"}
	for _, k := range m.meta.registry.Keys() {
		if k.Name == keys.IDKey {
			continue
		}
		names = append(names, k.Name)
		if k.Accessor != k.Name {
			names = append(names, k.Accessor)
		}
	}
	return names
}

// runFinder executes a parsed finder. args hold one value per field; the
// find_or_* variants accept one extra map of attributes used only when a
// new instance is built.
func (q *Query[T]) runFinder(ctx context.Context, f Finder, args []any) (any, error) {
	var extra map[string]any
	if len(args) == len(f.Fields)+1 && (f.Kind == FindOrInitialize || f.Kind == FindOrCreate) {
		if m, ok := args[len(args)-1].(map[string]any); ok {
			extra = m
			args = args[:len(args)-1]
		}
	}
	if len(args) != len(f.Fields) {
		return nil, &ArgumentError{
			Op:      "finder",
			Message: fmt.Sprintf("wrong number of arguments (%d for %d)", len(args), len(f.Fields)),
		}
	}

	conds := make(criteria.Criteria, len(f.Fields))
	seed := make(map[string]any, len(f.Fields)+len(extra))
	for i, field := range f.Fields {
		if field == "id" {
			field = keys.IDKey
		}
		conds[i] = criteria.C(field, args[i])
		seed[field] = args[i]
	}
	scoped := q.Where(conds)

	if f.Kind == FindAll {
		return scoped.All(ctx)
	}

	found, err := scoped.First(ctx)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	switch f.Kind {
	case FindOrInitialize, FindOrCreate:
		for k, v := range extra {
			seed[k] = v
		}
		doc := q.model.New()
		if err := docOf(doc).SetAttributes(seed); err != nil {
			return nil, err
		}
		if f.Kind == FindOrCreate {
			if err := q.model.Save(ctx, doc); err != nil {
				return doc, err
			}
		}
		return doc, nil
	}

	if f.Strict {
		return nil, &NotFoundError{Model: q.model.Name(), Criteria: scoped.Criteria()}
	}
	// a typed nil keeps Value assertable to *T
	return (*T)(nil), nil
}

// FindBy runs a dynamic finder by name, for example
// FindBy(ctx, "find_by_first_name_and_age", "ann", 20). Unknown names fail
// with a *NoMethodError.
func (q *Query[T]) FindBy(ctx context.Context, name string, args ...any) (any, error) {
	f, ok := ParseFinder(name, q.model.finderFields())
	if !ok {
		return nil, &NoMethodError{Model: q.model.Name(), Name: name}
	}
	return q.runFinder(ctx, f, args)
}

// FindBy is Query().FindBy.
func (m *Model[T]) FindBy(ctx context.Context, name string, args ...any) (any, error) {
	return m.Query().FindBy(ctx, name, args...)
}
