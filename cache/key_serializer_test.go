package cache

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"gopkg.in/mgo.v2/bson"
)

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

type compositeID struct {
	Tenant string
	Seq    int
	hidden string
}

func TestDefaultKeySerializer(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	oid := bson.ObjectIdHex("5f1b2c3d4e5f607182930a1b")
	u := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name      string
		namespace string
		args      []any
		want      string
	}{
		{name: "no args", namespace: "User", want: "User"},
		{name: "string id", namespace: "User", args: []any{"abc"}, want: joinWithSeparator("User", "abc")},
		{name: "int id", namespace: "User", args: []any{42}, want: joinWithSeparator("User", "42")},
		{name: "object id", namespace: "User", args: []any{oid}, want: joinWithSeparator("User", "5f1b2c3d4e5f607182930a1b")},
		{name: "uuid", namespace: "Token", args: []any{u}, want: joinWithSeparator("Token", u.String())},
		{
			name:      "uuid binary",
			namespace: "Token",
			args:      []any{bson.Binary{Kind: 0x04, Data: u[:]}},
			want:      joinWithSeparator("Token", u.String()),
		},
		{
			name:      "generic binary",
			namespace: "Blob",
			args:      []any{bson.Binary{Kind: 0x00, Data: []byte{0xab}}},
			want:      joinWithSeparator("Blob", "bin0:ab"),
		},
		{name: "nil", namespace: "User", args: []any{nil}, want: joinWithSeparator("User", "nil")},
		{name: "pointer", namespace: "User", args: []any{ptr(7)}, want: joinWithSeparator("User", "7")},
		{name: "slice", namespace: "Pair", args: []any{[]any{1, "a"}}, want: joinWithSeparator("Pair", "[1,a]")},
		{name: "map sorted", namespace: "M", args: []any{map[string]int{"b": 2, "a": 1}}, want: joinWithSeparator("M", "{a=1,b=2}")},
		{
			name:      "struct exported fields",
			namespace: "C",
			args:      []any{compositeID{Tenant: "t1", Seq: 3, hidden: "x"}},
			want:      joinWithSeparator("C", "{Tenant=t1,Seq=3}"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serializer.SerializeKey(tt.namespace, tt.args...)
			if got != tt.want {
				t.Errorf("SerializeKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultKeySerializer_Deterministic(t *testing.T) {
	serializer := NewDefaultKeySerializer()
	m := map[string]any{"z": 1, "a": []int{1, 2}, "m": bson.M{"x": true}}

	first := serializer.SerializeKey("T", m)
	for i := 0; i < 20; i++ {
		if got := serializer.SerializeKey("T", m); got != first {
			t.Fatalf("non deterministic key: %q vs %q", got, first)
		}
	}
}

func TestPrefix(t *testing.T) {
	key := NewDefaultKeySerializer().SerializeKey("User", "1")
	if !strings.HasPrefix(key, Prefix("User")) {
		t.Errorf("expected %q to start with %q", key, Prefix("User"))
	}
	if strings.HasPrefix(NewDefaultKeySerializer().SerializeKey("UserProfile", "1"), Prefix("User")) {
		t.Error("prefix must not match a longer type name")
	}
}

func ptr[T any](v T) *T { return &v }
