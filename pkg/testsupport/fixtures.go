// Package testsupport loads document fixtures into collections and compares
// collection contents with golden files.
//
// Fixture files hold a JSON array of documents in MongoDB extended JSON, so
// ids survive as ObjectIds:
//
//	[{"_id": {"$oid": "5f1d7a0e8b3c4a2d9e6f0a11"}, "f": "ann", "a": 20}]
package testsupport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/driver"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// ParseDocuments decodes an extended JSON array of documents.
func ParseDocuments(data []byte) ([]bson.M, error) {
	var docs []bson.M
	if err := bson.UnmarshalJSON(data, &docs); err != nil {
		return nil, fmt.Errorf("parse documents: %w", err)
	}
	return docs, nil
}

// LoadDocuments inserts the documents of a fixture file into coll and
// returns their ids in file order.
func LoadDocuments(t testing.TB, coll driver.Collection, path string) []any {
	t.Helper()

	docs, err := ParseDocuments(LoadFixture(t, path))
	if err != nil {
		t.Fatalf("fixture %s: %v", path, err)
	}
	return InsertDocuments(t, coll, docs...)
}

// InsertDocuments inserts docs into coll and returns their ids.
func InsertDocuments(t testing.TB, coll driver.Collection, docs ...bson.M) []any {
	t.Helper()

	ids := make([]any, 0, len(docs))
	for i, doc := range docs {
		id, err := coll.Insert(context.Background(), doc)
		if err != nil {
			t.Fatalf("insert fixture document %d into %s: %v", i, coll.Name(), err)
		}
		ids = append(ids, id)
	}
	return ids
}

// Seed loads one fixture file per collection: the file for collection
// "users" is dir/users.json.
func Seed(t testing.TB, db driver.Database, dir string, collections ...string) {
	t.Helper()

	for _, name := range collections {
		LoadDocuments(t, db.Collection(name), filepath.Join(dir, name+".json"))
	}
}

// DumpCollection renders every document of coll as indented extended
// JSON, ordered by _id.
func DumpCollection(t testing.TB, coll driver.Collection) []byte {
	t.Helper()

	docs, err := coll.Find(context.Background(), driver.FindRequest{})
	if err != nil {
		t.Fatalf("dump %s: %v", coll.Name(), err)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return driver.IDString(docs[i]["_id"]) < driver.IDString(docs[j]["_id"])
	})

	data, err := MarshalDocuments(docs)
	if err != nil {
		t.Fatalf("dump %s: %v", coll.Name(), err)
	}
	return data
}

// MarshalDocuments renders docs as indented extended JSON.
func MarshalDocuments(docs []bson.M) ([]byte, error) {
	if docs == nil {
		docs = []bson.M{}
	}
	raw, err := bson.MarshalJSON(docs)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// WriteGolden writes test output to a golden file, creating its directory.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// CompareWithGolden compares actual data with the golden file at path.
// A missing golden file is created from actual.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if !bytes.Equal(actual, expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// CompareCollectionWithGolden dumps coll and compares it with path.
func CompareCollectionWithGolden(t testing.TB, coll driver.Collection, path string) {
	t.Helper()
	CompareWithGolden(t, path, DumpCollection(t, coll))
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
