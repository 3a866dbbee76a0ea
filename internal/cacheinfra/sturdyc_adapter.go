package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/viccon/sturdyc"
)

// ErrCapacityExceeded is returned by Set and GetOrFetch when a new key would
// take the store past Capacity. Existing entries are never evicted to make
// room.
var ErrCapacityExceeded = errors.New("cacheinfra: capacity exceeded")

const (
	// noExpiry is the TTL handed to sturdyc; entries live until deleted.
	noExpiry = 100 * 365 * 24 * time.Hour
	// noEviction makes a full sturdyc shard refuse writes rather than drop
	// entries. Shards are sized so that Set reports ErrCapacityExceeded
	// before any shard fills.
	noEviction = 0
)

// Config holds the configuration for the sturdyc adapter.
type Config struct {
	// Capacity is the maximum number of live instances kept. Entries
	// never expire and are never evicted; once Capacity keys are mapped,
	// storing a new key fails with ErrCapacityExceeded.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 64
	NumShards int
}

// DefaultConfig returns the identity map defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:  10000,
		NumShards: 64,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// SturdycService wraps a sturdyc client.
type SturdycService struct {
	client   *sturdyc.Client[any]
	capacity int
	mu       sync.Mutex
}

// NewSturdycService validates cfg and builds the client. sturdyc splits its
// capacity evenly across shards and caps each one, so every shard is given
// the full Capacity and the total is enforced by Set instead.
func NewSturdycService(cfg Config) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity*cfg.NumShards,
		cfg.NumShards,
		noExpiry,
		noEviction,
		sturdyc.WithNoContinuousEvictions(),
	)

	return &SturdycService{client: client, capacity: cfg.Capacity}, nil
}

// validateFetchFn checks that fetchFn has the signature
// func(context.Context) (T, error).
func validateFetchFn(fetchFn any) error {
	if fetchFn == nil {
		return &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}

	fnType := reflect.TypeOf(fetchFn)
	if fnType.Kind() != reflect.Func {
		return &ConfigError{Field: "fetchFn", Message: "must be a function"}
	}

	if fnType.NumIn() != 1 || fnType.NumOut() != 2 {
		return &ConfigError{Field: "fetchFn", Message: "must have signature func(context.Context) (T, error)"}
	}

	contextType := reflect.TypeOf((*context.Context)(nil)).Elem()
	if !fnType.In(0).Implements(contextType) {
		return &ConfigError{Field: "fetchFn", Message: "first parameter must be context.Context"}
	}

	errorType := reflect.TypeOf((*error)(nil)).Elem()
	if !fnType.Out(1).Implements(errorType) {
		return &ConfigError{Field: "fetchFn", Message: "second return value must be error"}
	}

	return nil
}

// GetOrFetch returns the mapped value for key or runs fetchFn and maps its
// result. A nil result is returned as (nil, nil) and nothing is stored.
// When two fetches for one key race, the first value stored wins and is
// returned to both callers.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}

	if v, ok := s.client.Get(key); ok {
		return v, nil
	}

	v, err := callFetchFunctionWithReflection(ctx, fetchFn)
	if err != nil || isNil(v) {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.client.Get(key); ok {
		return existing, nil
	}
	if err := s.setLocked(key, v); err != nil {
		return nil, err
	}
	return v, nil
}

// callFetchFunctionWithReflection calls any function with the FetchFn[T]
// signature. fetchFn has been validated by validateFetchFn.
func callFetchFunctionWithReflection(ctx context.Context, fetchFn any) (any, error) {
	if fn, ok := fetchFn.(func(context.Context) (any, error)); ok {
		return fn(ctx)
	}

	results := reflect.ValueOf(fetchFn).Call([]reflect.Value{reflect.ValueOf(ctx)})

	var result any
	if rv := results[0]; rv.IsValid() && rv.CanInterface() {
		result = rv.Interface()
	}

	var err error
	if ev := results[1]; ev.IsValid() && !ev.IsNil() {
		err = ev.Interface().(error)
	}

	return result, err
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Get returns the value mapped to key.
func (s *SturdycService) Get(ctx context.Context, key string) (any, bool) {
	return s.client.Get(key)
}

// Set maps key to value, replacing any previous value. A new key fails with
// ErrCapacityExceeded when the store is full.
func (s *SturdycService) Set(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, value)
}

func (s *SturdycService) setLocked(key string, value any) error {
	if _, ok := s.client.Get(key); !ok && s.client.Size() >= s.capacity {
		return fmt.Errorf("%w: %d entries mapped, cannot add %s", ErrCapacityExceeded, s.capacity, key)
	}
	s.client.Set(key, value)
	return nil
}

// Delete removes a single entry.
func (s *SturdycService) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (s *SturdycService) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes the given entries.
func (s *SturdycService) InvalidateKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// Clear removes every entry.
func (s *SturdycService) Clear(ctx context.Context) error {
	return s.InvalidateKeys(ctx, s.client.ScanKeys())
}

// Keys lists the mapped keys.
func (s *SturdycService) Keys() []string {
	return s.client.ScanKeys()
}

// Len returns the number of mapped entries.
func (s *SturdycService) Len() int {
	return s.client.Size()
}
