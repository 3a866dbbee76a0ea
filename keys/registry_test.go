package keys

import (
	"bytes"
	"errors"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"
)

func TestRegistry_StorageKey(t *testing.T) {
	r := NewRegistry("User")

	_, err := r.Register("first_name", TypeString, Options{Alias: "f"})
	require.NoError(t, err)
	_, err = r.Register("last_name", TypeString, Options{Abbr: "l"})
	require.NoError(t, err)
	_, err = r.Register("age", TypeInt, Options{})
	require.NoError(t, err)

	assert.Equal(t, "f", r.StorageKey("first_name"))
	assert.Equal(t, "l", r.StorageKey("last_name"))
	assert.Equal(t, "age", r.StorageKey("age"))
	assert.Equal(t, "unknown", r.StorageKey("unknown"))

	assert.Equal(t, "first_name", r.NameFor("f"))
	assert.Equal(t, "nope", r.NameFor("nope"))
	assert.Equal(t, []string{"first_name", "last_name", "age"}, r.Names())
}

func TestRegistry_InvalidKeys(t *testing.T) {
	r := NewRegistry("User")

	tests := []struct {
		name string
		key  string
		opts Options
	}{
		{name: "empty", key: ""},
		{name: "reserved", key: "save"},
		{name: "not an identifier", key: "first name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(tt.key, TypeString, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidKey))
		})
	}

	_, err := r.Register("first_name", TypeString, Options{Alias: "n"})
	require.NoError(t, err)
	_, err = r.Register("nickname", TypeString, Options{Alias: "n"})
	var invalid *InvalidKeyError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "nickname", invalid.Key)
}

func TestRegistry_UppercaseKeyWarnsAndNormalizesAccessor(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry("User", WithLogger(zerolog.New(&buf)))

	key, err := r.Register("Name", TypeString, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Name", key.Name)
	assert.Equal(t, "Name", key.StorageKey)
	assert.Equal(t, "name", key.Accessor)
	assert.True(t, r.Has("name"))
	assert.Contains(t, buf.String(), "accessor normalized")
}

func TestRegistry_RemoveDetachesValidatorsAndIndexes(t *testing.T) {
	r := NewRegistry("User")

	_, err := r.Register("email", TypeString, Options{Required: true, Unique: true})
	require.NoError(t, err)
	require.NoError(t, r.AddValidator("email", validation.Length(3, 0)))

	assert.Len(t, r.Validators("email"), 2)
	assert.Len(t, r.IndexRequests(), 1)
	require.Error(t, r.Validate(map[string]any{}))

	assert.True(t, r.Remove("email"))
	assert.False(t, r.Remove("email"))

	assert.Empty(t, r.Validators("email"))
	assert.Empty(t, r.IndexRequests())
	assert.NoError(t, r.Validate(map[string]any{}))

	// re-registering must not resurrect the old validators
	_, err = r.Register("email", TypeString, Options{})
	require.NoError(t, err)
	assert.Empty(t, r.Validators("email"))
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry("User")
	spec, err := ParseTag("email,required,email")
	require.NoError(t, err)
	_, err = r.Register(spec.Name, TypeString, spec.Options)
	require.NoError(t, err)

	err = r.Validate(map[string]any{"email": "not-an-email"})
	var verrs validation.Errors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs, "email")

	assert.NoError(t, r.Validate(map[string]any{"email": "john@example.com"}))
}

func TestRegistry_StaticCheck(t *testing.T) {
	r := NewRegistry("Room", WithStatic(true))
	_, err := r.Register("name", TypeString, Options{})
	require.NoError(t, err)

	assert.NoError(t, r.CheckKey("name"))
	assert.NoError(t, r.CheckKey(IDKey))

	err = r.CheckKey("color")
	assert.True(t, errors.Is(err, ErrMissingKey))

	r.SetStatic(false)
	assert.NoError(t, r.CheckKey("color"))
}

func TestRegistry_Clone(t *testing.T) {
	r := NewRegistry("User")
	_, err := r.Register("name", TypeString, Options{Alias: "n", Required: true})
	require.NoError(t, err)

	c := r.Clone("Admin")
	_, err = c.Register("level", TypeInt, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Admin", c.Model())
	assert.Equal(t, "n", c.StorageKey("name"))
	assert.Len(t, c.Validators("name"), 1)
	assert.False(t, r.Has("level"))
}

func TestKey_DefaultValue(t *testing.T) {
	k := &Key{Type: TypeInt, Options: Options{Default: "42"}}
	assert.Equal(t, 42, k.DefaultValue())

	calls := 0
	k = &Key{Type: TypeArray, Options: Options{Default: func() any {
		calls++
		return []any{}
	}}}
	k.DefaultValue()
	k.DefaultValue()
	assert.Equal(t, 2, calls)
}

func TestType_CastAndDump(t *testing.T) {
	v, err := TypeInt.Cast("12")
	require.NoError(t, err)
	assert.Equal(t, 12, v)

	v, err = TypeString.Cast(12)
	require.NoError(t, err)
	assert.Equal(t, "12", v)

	oid := bson.NewObjectId()
	v, err = TypeObjectID.Cast(oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, oid, v)

	_, err = TypeObjectID.Cast("not-an-id")
	assert.Error(t, err)

	u := uuid.New()
	v, err = TypeUUID.Cast(u.String())
	require.NoError(t, err)
	assert.Equal(t, u, v)

	dumped := TypeUUID.Dump(u)
	bin, ok := dumped.(bson.Binary)
	require.True(t, ok)
	back, ok := ToUUID(bin)
	require.True(t, ok)
	assert.Equal(t, u, back)
}

func TestParseTag(t *testing.T) {
	spec, err := ParseTag("first_name,alias=f,required,index,default=John")
	require.NoError(t, err)
	assert.Equal(t, "first_name", spec.Name)
	assert.Equal(t, "f", spec.Options.Alias)
	assert.True(t, spec.Options.Required)
	assert.True(t, spec.Options.Index)
	assert.Equal(t, "John", spec.Options.Default)

	spec, err = ParseTag("owner_id,type=objectid")
	require.NoError(t, err)
	assert.True(t, spec.HasType)
	assert.Equal(t, TypeObjectID, spec.Type)

	spec, err = ParseTag("-")
	require.NoError(t, err)
	assert.True(t, spec.Skip)

	_, err = ParseTag("x,bogus")
	assert.Error(t, err)

	spec, err = ParseTag("state,in=open|closed,length=2|6")
	require.NoError(t, err)
	assert.Len(t, spec.Options.Validators, 2)
}
