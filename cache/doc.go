// Package cache is the storage abstraction behind the identity map.
//
// CacheService holds live instances under string keys and supports
// read-through loading with GetOrFetch. The default implementation wraps a
// sturdyc client configured so that entries never expire and are never
// evicted. Once Config.Capacity keys are mapped, storing a new key fails
// with ErrCapacityExceeded.
//
// Keys are built by a KeySerializer from a namespace (the root document
// type name) and the id:
//
//	serializer := cache.NewDefaultKeySerializer()
//	key := serializer.SerializeKey("User", bson.ObjectIdHex("5f1b2c3d4e5f607182930a1b"))
//	// "User:5f1b2c3d4e5f607182930a1b"
//
// ObjectIds render as hex and UUIDs, including BSON binary subtype 4, in
// canonical form, so a lookup by either representation of one id hits the
// same entry.
package cache
