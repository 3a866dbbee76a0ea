package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/mgo.v2/bson"
)

// KeySeparator separates the namespace from the id segments, giving keys
// of the form "<type>:<id>".
const KeySeparator = ":"

// defaultKeySerializer renders ids deterministically. ObjectIds render as
// hex, UUIDs and UUID binaries in canonical form, composite values
// recursively.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey joins the namespace and the rendered args with KeySeparator.
func (s *defaultKeySerializer) SerializeKey(namespace string, args ...any) string {
	if len(args) == 0 {
		return namespace
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, namespace)
	for _, arg := range args {
		parts = append(parts, s.serializeValue(arg))
	}
	return strings.Join(parts, KeySeparator)
}

// Prefix returns the prefix shared by every key in namespace.
func Prefix(namespace string) string {
	return namespace + KeySeparator
}

func (s *defaultKeySerializer) serializeValue(v any) string {
	switch id := v.(type) {
	case nil:
		return "nil"
	case string:
		return id
	case bson.ObjectId:
		if id.Valid() {
			return id.Hex()
		}
		return fmt.Sprintf("%x", string(id))
	case uuid.UUID:
		return id.String()
	case bson.Binary:
		if u, err := uuid.FromBytes(id.Data); err == nil && id.Kind == 0x04 {
			return u.String()
		}
		return fmt.Sprintf("bin%d:%x", id.Kind, id.Data)
	case []byte:
		return fmt.Sprintf("%x", id)
	case fmt.Stringer:
		return id.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		return s.serializeSequence(rv)
	case reflect.Map:
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv)
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return fmt.Sprintf("%v", v)
	}
	return s.jsonFallback(v)
}

func (s *defaultKeySerializer) serializeSequence(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = s.serializeValue(rv.Index(i).Interface())
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// serializeMap sorts by rendered key so the output is deterministic.
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, s.serializeValue(iter.Key().Interface())+"="+s.serializeValue(iter.Value().Interface()))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

func (s *defaultKeySerializer) serializeStruct(rv reflect.Value) string {
	rt := rv.Type()
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		parts = append(parts, field.Name+"="+s.serializeValue(rv.Field(i).Interface()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// jsonFallback is used for anything else; it never fails.
func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("fallback:%T", v)
	}
	return string(data)
}
