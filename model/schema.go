package model

import (
	"context"
	"fmt"
	"reflect"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/keys"
)

var documentType = reflect.TypeOf(Document{})

// persister lets a Document reach the typed Model that built it.
type persister interface {
	saveAny(ctx context.Context, v any) error
	destroyAny(ctx context.Context, v any) error
	deleteAny(ctx context.Context, v any) error
	reloadAny(ctx context.Context, v any) error
}

// meta is the untyped description of one model shared by its instances.
type meta struct {
	name      string
	registry  *keys.Registry
	rtype     reflect.Type
	fields    map[string][]int
	idType    keys.Type
	tree      *hierarchy
	persister persister
}

func (m *meta) castID(id any) any {
	if id == nil {
		return nil
	}
	if v, err := m.idType.Cast(id); err == nil && v != nil {
		return v
	}
	return id
}

// registerFields declares a key for every exported field of rt. Fields
// already declared (inherited from a parent model) only get their path
// recorded.
func registerFields(rt reflect.Type, registry *keys.Registry) (map[string][]int, error) {
	fields := make(map[string][]int)

	for _, f := range reflect.VisibleFields(rt) {
		if f.Anonymous || !f.IsExported() || f.Type == documentType {
			continue
		}

		spec, err := keys.ParseTag(f.Tag.Get(keys.TagName))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", rt.Name(), f.Name, err)
		}
		if spec.Skip {
			continue
		}

		name := spec.Name
		if name == "" {
			name = toSnake(f.Name)
		}
		if isIDName(name) {
			return nil, &keys.InvalidKeyError{Model: registry.Model(), Key: name, Reason: "the id is held by the embedded Document"}
		}

		if k, ok := registry.Key(name); ok {
			fields[k.Name] = f.Index
			continue
		}

		typ := spec.Type
		if !spec.HasType {
			typ = keys.TypeOf(f.Type)
		}
		k, err := registry.Register(name, typ, spec.Options)
		if err != nil {
			return nil, err
		}
		fields[k.Name] = f.Index
	}

	return fields, nil
}

// embedsDocument reports whether rt reaches Document through embedded
// struct fields.
func embedsDocument(rt reflect.Type) bool {
	_, ok := embeddedPath(rt, documentType)
	return ok
}

// embeddedPath finds target among the embedded struct fields of rt,
// breadth first.
func embeddedPath(rt, target reflect.Type) ([]int, bool) {
	if rt == target {
		return nil, true
	}

	type node struct {
		t    reflect.Type
		path []int
	}
	queue := []node{{t: rt}}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.t.Kind() != reflect.Struct {
			continue
		}
		for i := 0; i < n.t.NumField(); i++ {
			f := n.t.Field(i)
			if !f.Anonymous {
				continue
			}
			path := append(append([]int(nil), n.path...), i)
			if f.Type == target {
				return path, true
			}
			queue = append(queue, node{t: f.Type, path: path})
		}
	}
	return nil, false
}

// upcast returns v, a pointer to a concrete model struct, as a *T when T is
// the struct itself or one of its embedded ancestors.
func upcast[T any](v any) (*T, bool) {
	if t, ok := v.(*T); ok {
		return t, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, false
	}
	path, ok := embeddedPath(rv.Elem().Type(), reflect.TypeOf((*T)(nil)).Elem())
	if !ok {
		return nil, false
	}
	t, ok := rv.Elem().FieldByIndex(path).Addr().Interface().(*T)
	return t, ok
}

// assign stores v into dst, converting between compatible kinds and
// falling back to a bson round trip for nested values.
func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		p := reflect.New(dst.Type().Elem())
		if err := assign(p.Elem(), v); err != nil {
			return err
		}
		dst.Set(p)
		return nil
	}

	if convertible(src.Type(), dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}

	return bsonAssign(dst, v)
}

func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	fk, tk := from.Kind(), to.Kind()
	if isNumeric(fk) && isNumeric(tk) {
		return true
	}
	return fk == tk && (fk == reflect.String || fk == reflect.Bool)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func bsonAssign(dst reflect.Value, v any) error {
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return err
	}

	holder := reflect.New(reflect.StructOf([]reflect.StructField{{
		Name: "V",
		Type: dst.Type(),
		Tag:  `bson:"v"`,
	}}))
	if err := bson.Unmarshal(raw, holder.Interface()); err != nil {
		return fmt.Errorf("cannot assign %T to %s: %w", v, dst.Type(), err)
	}
	dst.Set(holder.Elem().Field(0))
	return nil
}
