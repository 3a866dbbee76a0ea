package criteria

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/goliatone/go-odm/keys"
	"gopkg.in/mgo.v2/bson"
)

// KeyResolver is the slice of the key registry the translator needs.
// *keys.Registry implements it. A nil resolver leaves names untouched.
type KeyResolver interface {
	StorageKey(name string) string
	KeyType(name string) (keys.Type, bool)
}

// Dealias rewrites criteria into a storage-keyed driver document. Only
// top-level field references are renamed; logical operators recurse into
// their branches. Conditions on the same storage key are merged with Merge.
func Dealias(c Criteria, r KeyResolver) bson.M {
	out := bson.M{}
	for _, cond := range c {
		key, value := dealiasCond(cond, r)
		Merge(out, bson.M{key: value})
	}
	return out
}

// DealiasMap is Dealias for the map form.
func DealiasMap(m map[string]any, r KeyResolver) bson.M {
	return Dealias(fromMap(m), r)
}

func dealiasCond(cond Cond, r KeyResolver) (string, any) {
	field := cond.Ref.Field

	if IsLogical(field) {
		return field, dealiasBranches(cond.Value, r)
	}
	if strings.HasPrefix(field, "$") {
		return field, cond.Value
	}

	storage := StorageKey(field, r)
	typ := fieldType(field, r)
	value := normalizeLeaf(cond.Value)

	if cond.Ref.Op != Eq {
		return storage, bson.M{cond.Ref.Op.Token(): Coerce(typ, value)}
	}

	if isOperatorDocument(value) {
		doc, _ := asDocument(value)
		ops := bson.M{}
		for k, v := range doc {
			ops[k] = Coerce(typ, normalizeLeaf(v))
		}
		return storage, ops
	}

	return storage, Coerce(typ, value)
}

func dealiasBranches(v any, r KeyResolver) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}

	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		branch, err := Normalize(rv.Index(i).Interface())
		if err != nil {
			out = append(out, rv.Index(i).Interface())
			continue
		}
		out = append(out, Dealias(branch, r))
	}
	return out
}

// StorageKey resolves a possibly dotted field name. A dotted path whose full
// name is unknown has its first segment translated.
func StorageKey(field string, r KeyResolver) string {
	if field == "id" {
		return keys.IDKey
	}
	if r == nil {
		return field
	}
	if _, ok := r.KeyType(field); ok {
		return r.StorageKey(field)
	}
	if head, rest, ok := strings.Cut(field, "."); ok {
		if _, known := r.KeyType(head); known {
			return r.StorageKey(head) + "." + rest
		}
	}
	return field
}

func fieldType(field string, r KeyResolver) keys.Type {
	if r != nil {
		if t, ok := r.KeyType(field); ok {
			return t
		}
	}
	if field == keys.IDKey || field == "id" {
		return keys.TypeObjectID
	}
	return keys.TypeAny
}

func normalizeLeaf(v any) any {
	if re, ok := v.(*regexp.Regexp); ok {
		return bson.RegEx{Pattern: re.String()}
	}
	return v
}

// Coerce converts id-shaped values for object-id and uuid fields into their
// native form. Values that cannot be coerced pass through unchanged, so a
// malformed id simply matches nothing.
func Coerce(t keys.Type, v any) any {
	if !t.IsID() || v == nil || isLeafFor(t, v) {
		return v
	}

	if doc, ok := asDocument(v); ok {
		out := bson.M{}
		for k, val := range doc {
			out[k] = Coerce(t, val)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Coerce(t, rv.Index(i).Interface())
		}
		return out
	}

	switch t {
	case keys.TypeObjectID:
		if s, ok := v.(string); ok {
			if oid, ok := keys.ToObjectID(s); ok {
				return oid
			}
		}
	case keys.TypeUUID:
		if u, ok := keys.ToUUID(v); ok {
			return keys.UUIDBinary(u)
		}
	}
	return v
}

func isLeafFor(t keys.Type, v any) bool {
	if _, ok := v.(bson.Binary); ok {
		return true
	}
	return isLeaf(v) && t != keys.TypeUUID
}

// DealiasFields rewrites a list of projection or sort fields.
func DealiasFields(fields []string, r KeyResolver) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = StorageKey(f, r)
	}
	return out
}

// DealiasProjection rewrites only the keys of a projection document.
func DealiasProjection(fields map[string]any, r KeyResolver) bson.M {
	out := bson.M{}
	for k, v := range fields {
		out[StorageKey(k, r)] = v
	}
	return out
}

// Merge folds src into dst. Keys are last-write-wins, except when both sides
// are operator documents, in which case operators are merged and the later
// operator wins.
func Merge(dst, src bson.M) bson.M {
	for k, v := range src {
		prev, exists := dst[k]
		if exists && isOperatorDocument(prev) && isOperatorDocument(v) {
			merged := bson.M{}
			p, _ := asDocument(prev)
			for op, val := range p {
				merged[op] = val
			}
			n, _ := asDocument(v)
			for op, val := range n {
				merged[op] = val
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
	return dst
}

// Clone makes a shallow copy of a criteria document, deep enough that
// subsequent merges do not alias operator documents.
func Clone(src bson.M) bson.M {
	out := make(bson.M, len(src))
	for k, v := range src {
		if doc, ok := asDocument(v); ok {
			cp := make(bson.M, len(doc))
			for dk, dv := range doc {
				cp[dk] = dv
			}
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}
