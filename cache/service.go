package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidResultType is returned by GetOrFetch when the cached value is
// not of the requested type.
var ErrInvalidResultType = errors.New("cache: invalid result type")

// KeySerializer builds a cache key from a namespace (a type name) and the
// values identifying an entry within it.
type KeySerializer interface {
	SerializeKey(namespace string, args ...any) string
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the store behind the identity map. Values are live
// instances; the service never copies them.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error)
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	InvalidateKeys(ctx context.Context, keys []string) error
	Clear(ctx context.Context) error
	Keys() []string
	Len() int
}

// GetOrFetch is a type-safe wrapper function that provides generic support for CacheService.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T

	result, err := service.GetOrFetch(ctx, key, fetchFn)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: key %s holds %T", ErrInvalidResultType, key, result)
	}
	return typed, nil
}

// Get is a type-safe wrapper around CacheService.Get. A value of the wrong
// type reports a miss.
func Get[T any](ctx context.Context, service CacheService, key string) (T, bool) {
	var zero T

	v, ok := service.Get(ctx, key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
