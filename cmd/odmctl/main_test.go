package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-odm/pkg/testsupport"
)

const usersJSON = `[
  {"_id": {"$oid": "5f1d7a0e8b3c4a2d9e6f0a11"}, "f": "ann", "a": 20, "email": "ann@example.com"},
  {"_id": {"$oid": "5f1d7a0e8b3c4a2d9e6f0a12"}, "f": "bob", "a": 31, "email": "bob@example.com"},
  {"_id": {"$oid": "5f1d7a0e8b3c4a2d9e6f0a13"}, "f": "cat", "a": 42, "email": "cat@example.com"}
]`

type store struct {
	t   *testing.T
	dsn string
}

func newStore(t *testing.T) *store {
	t.Helper()
	s := &store{t: t, dsn: filepath.Join(t.TempDir(), "odm.db")}

	fixture := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(fixture, []byte(usersJSON), 0o644))
	out, err := s.run("load", "users", fixture)
	require.NoError(t, err)
	assert.Equal(t, "inserted 3\n", out)
	return s
}

func (s *store) run(args ...string) (string, error) {
	s.t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--driver", "sqlite", "--dsn", s.dsn, "--log-level", "disabled"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func names(t *testing.T, out string) []string {
	t.Helper()
	docs, err := testsupport.ParseDocuments([]byte(out))
	require.NoError(t, err)
	var got []string
	for _, d := range docs {
		got = append(got, d["f"].(string))
	}
	return got
}

func TestFind(t *testing.T) {
	s := newStore(t)

	out, err := s.run("find", "users", `{"a": {"$gte": 30}}`, "--sort", "a desc")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "bob"}, names(t, out))

	out, err = s.run("find", "users", "--sort", "f", "--skip", "1", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, names(t, out))

	out, err = s.run("find", "users", `{"_id": {"$oid": "5f1d7a0e8b3c4a2d9e6f0a11"}}`)
	require.NoError(t, err)
	docs, err := testsupport.ParseDocuments([]byte(out))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, bson.ObjectIdHex("5f1d7a0e8b3c4a2d9e6f0a11"), docs[0]["_id"])

	out, err = s.run("find", "users", `{"f": "nobody"}`)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	_, err = s.run("find", "users", `{"f": "nobody"}`, "--first")
	assert.Error(t, err)

	_, err = s.run("find", "users", `{not json`)
	assert.Error(t, err)
}

func TestFind_YAMLAndFields(t *testing.T) {
	s := newStore(t)

	out, err := s.run("find", "users", `{"f": "ann"}`, "--fields", "f", "-o", "yaml")
	require.NoError(t, err)

	var docs []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "ann", docs[0]["f"])
	assert.NotContains(t, docs[0], "email")
	assert.Contains(t, docs[0], "_id")

	_, err = s.run("find", "users", "-o", "xml")
	assert.Error(t, err)
}

func TestCount(t *testing.T) {
	s := newStore(t)

	out, err := s.run("count", "users")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = s.run("count", "users", `{"$or": [{"f": "ann"}, {"a": {"$gt": 40}}]}`)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestRemove(t *testing.T) {
	s := newStore(t)

	_, err := s.run("remove", "users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")

	out, err := s.run("remove", "users", `{"a": {"$lt": 25}}`)
	require.NoError(t, err)
	assert.Equal(t, "removed 1\n", out)

	out, err = s.run("remove", "users", "--all")
	require.NoError(t, err)
	assert.Equal(t, "removed 2\n", out)

	out, err = s.run("count", "users")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestIndexes(t *testing.T) {
	s := newStore(t)

	out, err := s.run("indexes", "create", "users", "email", "--unique")
	require.NoError(t, err)
	assert.Equal(t, "created email_1\n", out)

	out, err = s.run("indexes", "create", "users", "a:-1", "f")
	require.NoError(t, err)
	assert.Equal(t, "created a_-1_f_1\n", out)

	_, err = s.run("indexes", "create", "users", "a:2")
	assert.Error(t, err)

	out, err = s.run("indexes", "list", "users")
	require.NoError(t, err)
	assert.Contains(t, out, `"email_1"`)
	assert.Contains(t, out, `"a_-1_f_1"`)

	dup := filepath.Join(t.TempDir(), "dup.json")
	require.NoError(t, os.WriteFile(dup, []byte(`[{"f": "dup", "email": "ann@example.com"}]`), 0o644))
	_, err = s.run("load", "users", dup)
	assert.Error(t, err, "unique index rejects the duplicate email")

	out, err = s.run("indexes", "drop", "users", "email_1")
	require.NoError(t, err)
	assert.Equal(t, "dropped email_1\n", out)

	_, err = s.run("indexes", "drop", "users")
	assert.Error(t, err)

	out, err = s.run("indexes", "drop", "users", "--all")
	require.NoError(t, err)
	assert.Equal(t, "dropped all\n", out)

	out, err = s.run("indexes", "list", "users")
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, "a_-1_f_1"))
}

func TestParseIndexKey(t *testing.T) {
	k, err := parseIndexKey("email")
	require.NoError(t, err)
	assert.Equal(t, "email", k.Key)
	assert.Equal(t, 1, k.Direction)

	k, err = parseIndexKey("age:-1")
	require.NoError(t, err)
	assert.Equal(t, -1, k.Direction)

	_, err = parseIndexKey(":1")
	assert.Error(t, err)
}
