package keys

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"gopkg.in/mgo.v2/bson"
)

// Type tags the value type of a key. It selects the caster used on writes
// and loads, and the storage form used on the wire.
type Type string

const (
	TypeAny      Type = ""
	TypeString   Type = "string"
	TypeInt      Type = "int"
	TypeFloat    Type = "float"
	TypeBool     Type = "bool"
	TypeTime     Type = "time"
	TypeObjectID Type = "objectid"
	TypeUUID     Type = "uuid"
	TypeArray    Type = "array"
	TypeHash     Type = "hash"
)

// uuidBinaryKind is the BSON binary subtype for RFC 4122 UUIDs.
const uuidBinaryKind = 0x04

var (
	objectIDType = reflect.TypeOf(bson.ObjectId(""))
	uuidType     = reflect.TypeOf(uuid.UUID{})
	timeType     = reflect.TypeOf(time.Time{})
)

// ParseType maps a tag value to a Type.
func ParseType(name string) (Type, error) {
	switch t := Type(name); t {
	case TypeAny, TypeString, TypeInt, TypeFloat, TypeBool, TypeTime,
		TypeObjectID, TypeUUID, TypeArray, TypeHash:
		return t, nil
	}
	return TypeAny, fmt.Errorf("unknown key type %q", name)
}

// TypeOf infers a Type from a Go field type.
func TypeOf(t reflect.Type) Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t {
	case objectIDType:
		return TypeObjectID
	case uuidType:
		return TypeUUID
	case timeType:
		return TypeTime
	}

	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt
	case reflect.Float32, reflect.Float64:
		return TypeFloat
	case reflect.Bool:
		return TypeBool
	case reflect.Slice, reflect.Array:
		return TypeArray
	case reflect.Map:
		return TypeHash
	default:
		return TypeAny
	}
}

// IsID reports whether values of this type take part in string to native id
// coercion.
func (t Type) IsID() bool {
	return t == TypeObjectID || t == TypeUUID
}

// Cast converts v into the in-memory representation for the type.
func (t Type) Cast(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case TypeString:
		if oid, ok := v.(bson.ObjectId); ok {
			return oid.Hex(), nil
		}
		return cast.ToStringE(v)
	case TypeInt:
		return cast.ToIntE(v)
	case TypeFloat:
		return cast.ToFloat64E(v)
	case TypeBool:
		return cast.ToBoolE(v)
	case TypeTime:
		return cast.ToTimeE(v)
	case TypeObjectID:
		if oid, ok := ToObjectID(v); ok {
			return oid, nil
		}
		return nil, fmt.Errorf("cannot cast %T to object id", v)
	case TypeUUID:
		if u, ok := ToUUID(v); ok {
			return u, nil
		}
		return nil, fmt.Errorf("cannot cast %T to uuid", v)
	case TypeArray:
		return castArray(v)
	case TypeHash:
		return castHash(v)
	default:
		return v, nil
	}
}

// Dump converts an in-memory value into its storage form.
func (t Type) Dump(v any) any {
	if v == nil {
		return nil
	}

	switch t {
	case TypeUUID:
		if u, ok := ToUUID(v); ok {
			return UUIDBinary(u)
		}
	case TypeObjectID:
		if oid, ok := ToObjectID(v); ok {
			return oid
		}
	case TypeTime:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC()
		}
	}
	return v
}

// ToObjectID converts strings of the right shape and ObjectIds to an
// ObjectId. It never panics.
func ToObjectID(v any) (bson.ObjectId, bool) {
	switch id := v.(type) {
	case bson.ObjectId:
		return id, id.Valid()
	case string:
		if bson.IsObjectIdHex(id) {
			return bson.ObjectIdHex(id), true
		}
	case fmt.Stringer:
		s := id.String()
		if bson.IsObjectIdHex(s) {
			return bson.ObjectIdHex(s), true
		}
	}
	return "", false
}

// ToUUID converts strings, byte slices and BSON binaries to a UUID.
func ToUUID(v any) (uuid.UUID, bool) {
	switch id := v.(type) {
	case uuid.UUID:
		return id, true
	case string:
		u, err := uuid.Parse(id)
		return u, err == nil
	case []byte:
		u, err := uuid.FromBytes(id)
		return u, err == nil
	case bson.Binary:
		u, err := uuid.FromBytes(id.Data)
		return u, err == nil
	}
	return uuid.Nil, false
}

// UUIDBinary returns the BSON storage form of a UUID.
func UUIDBinary(u uuid.UUID) bson.Binary {
	data := make([]byte, len(u))
	copy(data, u[:])
	return bson.Binary{Kind: uuidBinaryKind, Data: data}
}

func castArray(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}, nil
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func castHash(v any) (any, error) {
	switch m := v.(type) {
	case bson.M:
		return map[string]any(m), nil
	case map[string]any:
		return m, nil
	}
	return cast.ToStringMapE(v)
}
