// Package driver defines the collection primitives the mapper consumes.
// Implementations live in sub packages; any store exposing these primitives
// over a collection handle can back a model.
package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/mgo.v2/bson"
)

// Doc is a raw storage document.
type Doc = bson.M

// SortKey is a storage key with a direction (1 or -1).
type SortKey struct {
	Key       string
	Direction int
}

// FindRequest carries everything a find needs. Zero Limit means no limit.
type FindRequest struct {
	Criteria   Doc
	Projection Doc
	Sort       []SortKey
	Skip       int
	Limit      int
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	Upsert bool
	Multi  bool
}

// UpdateResult reports the outcome of Update.
type UpdateResult struct {
	Matched    int
	Modified   int
	UpsertedID any
}

// RemoveResult reports the outcome of Remove.
type RemoveResult struct {
	Removed int
}

// IndexSpec lists the keys of an index in order.
type IndexSpec struct {
	Keys []SortKey
}

// IndexOptions configures CreateIndex.
type IndexOptions struct {
	Name   string
	Unique bool
	Sparse bool
}

// IndexInfo describes an existing index.
type IndexInfo struct {
	Name   string
	Spec   IndexSpec
	Unique bool
	Sparse bool
}

// Collection is the store handle. Errors are returned as produced by the
// store; callers never get them wrapped by the mapper.
type Collection interface {
	Name() string
	Find(ctx context.Context, req FindRequest) ([]Doc, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, criteria, projection Doc) (Doc, error)
	Count(ctx context.Context, criteria Doc) (int, error)
	Insert(ctx context.Context, doc Doc) (any, error)
	Update(ctx context.Context, criteria, update Doc, opts UpdateOptions) (UpdateResult, error)
	Remove(ctx context.Context, criteria Doc) (RemoveResult, error)
	CreateIndex(ctx context.Context, spec IndexSpec, opts IndexOptions) error
	DropIndex(ctx context.Context, name string) error
	DropIndexes(ctx context.Context) error
	Indexes(ctx context.Context) ([]IndexInfo, error)
}

// Database hands out collections by name.
type Database interface {
	Collection(name string) Collection
	Close() error
}

// IndexName builds the conventional index name, e.g. "age_1_name_-1".
func IndexName(spec IndexSpec) string {
	parts := make([]string, 0, len(spec.Keys)*2)
	for _, k := range spec.Keys {
		dir := k.Direction
		if dir == 0 {
			dir = 1
		}
		parts = append(parts, k.Key, strconv.Itoa(dir))
	}
	return strings.Join(parts, "_")
}

// DuplicateKeyError is returned when an insert or update violates a unique
// index.
type DuplicateKeyError struct {
	Collection string
	Index      string
	Value      any
}

// Error implements the error interface.
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key error collection: %s index: %s dup key: %v", e.Collection, e.Index, e.Value)
}

// IDString renders an id for use as a row key or map key.
func IDString(id any) string {
	switch v := id.(type) {
	case bson.ObjectId:
		return v.Hex()
	case string:
		return v
	case bson.Binary:
		return fmt.Sprintf("%x", v.Data)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
