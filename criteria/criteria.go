// Package criteria models query conditions keyed by field references and
// translates them into storage-keyed documents for the driver.
package criteria

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/mgo.v2/bson"
)

// M is a convenience map of field name to condition. Keys may be plain
// field names, dotted paths or logical operators ("$or").
type M map[string]any

// Ref is a field reference, optionally qualified with an operator.
type Ref struct {
	Field string
	Op    Operator
}

// F starts a field reference.
func F(field string) Ref { return Ref{Field: field} }

func (r Ref) with(op Operator) Ref { r.Op = op; return r }

func (r Ref) Gt() Ref        { return r.with(Gt) }
func (r Ref) Lt() Ref        { return r.with(Lt) }
func (r Ref) Gte() Ref       { return r.with(Gte) }
func (r Ref) Lte() Ref       { return r.with(Lte) }
func (r Ref) Ne() Ref        { return r.with(Ne) }
func (r Ref) In() Ref        { return r.with(In) }
func (r Ref) Nin() Ref       { return r.with(Nin) }
func (r Ref) All() Ref       { return r.with(All) }
func (r Ref) Near() Ref      { return r.with(Near) }
func (r Ref) Exists() Ref    { return r.with(Exists) }
func (r Ref) Size() Ref      { return r.with(Size) }
func (r Ref) ElemMatch() Ref { return r.with(ElemMatch) }

// Is pairs the reference with a value.
func (r Ref) Is(value any) Cond { return Cond{Ref: r, Value: value} }

// Asc pairs the reference with an ascending direction.
func (r Ref) Asc() SortField { return SortField{Field: r.Field, Direction: Ascending} }

// Desc pairs the reference with a descending direction.
func (r Ref) Desc() SortField { return SortField{Field: r.Field, Direction: Descending} }

// String renders the reference as field or field.op.
func (r Ref) String() string {
	if r.Op == Eq {
		return r.Field
	}
	return r.Field + "." + string(r.Op)
}

// Cond is one field-reference/value pair.
type Cond struct {
	Ref   Ref
	Value any
}

// C builds a condition from a field name or Ref.
func C(ref any, value any) Cond {
	switch r := ref.(type) {
	case Ref:
		return Cond{Ref: r, Value: value}
	default:
		return Cond{Ref: F(fmt.Sprint(ref)), Value: value}
	}
}

// Criteria is an ordered list of conditions.
type Criteria []Cond

// Or composes nested criteria with $or.
func Or(branches ...any) Cond { return Cond{Ref: F(OrKey), Value: branches} }

// And composes nested criteria with $and.
func And(branches ...any) Cond { return Cond{Ref: F(AndKey), Value: branches} }

// Nor composes nested criteria with $nor.
func Nor(branches ...any) Cond { return Cond{Ref: F(NorKey), Value: branches} }

// Normalize flattens the accepted criteria forms into ordered conditions.
// Accepted: Criteria, Cond, M, map[string]any, bson.M, bson.D. Map keys are
// sorted so the result is deterministic.
func Normalize(args ...any) (Criteria, error) {
	var out Criteria
	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
		case Criteria:
			out = append(out, v...)
		case []Cond:
			out = append(out, v...)
		case Cond:
			out = append(out, v)
		case M:
			out = append(out, fromMap(v)...)
		case map[string]any:
			out = append(out, fromMap(v)...)
		case bson.M:
			out = append(out, fromMap(v)...)
		case bson.D:
			for _, e := range v {
				out = append(out, Cond{Ref: F(e.Name), Value: e.Value})
			}
		default:
			return nil, fmt.Errorf("unsupported criteria type %T", arg)
		}
	}
	return out, nil
}

func fromMap(m map[string]any) Criteria {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(Criteria, 0, len(m))
	for _, k := range names {
		out = append(out, Cond{Ref: F(k), Value: m[k]})
	}
	return out
}

// isLeaf reports values that are never descended into.
func isLeaf(v any) bool {
	switch v.(type) {
	case bson.RegEx, *regexp.Regexp, bson.ObjectId, bson.Binary:
		return true
	}
	return false
}

// asDocument returns v as a map when it is any of the supported map forms.
func asDocument(v any) (map[string]any, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case M:
		return d, true
	case map[string]any:
		return d, true
	}
	return nil, false
}

// isOperatorDocument reports whether every key of v starts with "$".
func isOperatorDocument(v any) bool {
	doc, ok := asDocument(v)
	if !ok || len(doc) == 0 {
		return false
	}
	for k := range doc {
		if len(k) == 0 || k[0] != '$' {
			return false
		}
	}
	return true
}
