// Package identitymap keeps at most one live instance per (type, id) while
// it is enabled, so two loads of the same document return the same pointer.
//
// A Map is an explicit object, disabled when constructed. Use and Without
// toggle it for the duration of a function and restore the previous state
// on return, including when the function panics.
//
// The enabled flag and the repository are shared by every goroutine holding
// the Map. Use and Without flip process-wide state, so servers should either
// give each request its own Map through WithContext or serialise requests
// around a shared one; Middleware clears the shared Map at both ends of a
// request.
//
// Mapped instances never expire and are never evicted. The repository
// holds at most cache.Config.Capacity instances; mapping one more fails
// with cache.ErrCapacityExceeded, which surfaces from the load that
// triggered it. Clear, or a per-request Map, bounds the working set.
package identitymap

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-odm/cache"
)

// Option configures a Map.
type Option func(*Map)

// WithConfig sizes the default sturdyc repository. It is ignored when
// WithRepository is also given.
func WithConfig(cfg cache.Config) Option {
	return func(m *Map) { m.cfg = cfg }
}

// WithRepository sets the store holding the instances.
func WithRepository(repo cache.CacheService) Option {
	return func(m *Map) { m.repo = repo }
}

// WithKeySerializer replaces the "<type>:<id>" key builder.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(m *Map) { m.keys = s }
}

// WithLogger sets the logger for hit, miss and evict debug lines.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Map) { m.logger = l }
}

// WithEnabled sets the initial state.
func WithEnabled(enabled bool) Option {
	return func(m *Map) { m.enabled.Store(enabled) }
}

// Map is an identity map. The zero value is not usable, call New.
// A nil *Map behaves as a permanently disabled map.
type Map struct {
	enabled atomic.Bool
	cfg     cache.Config
	repo    cache.CacheService
	keys    cache.KeySerializer
	logger  zerolog.Logger
}

// New builds a disabled Map. Without WithRepository a sturdyc backed
// repository is created from the configured cache.Config.
func New(opts ...Option) (*Map, error) {
	m := &Map{
		cfg:    cache.DefaultConfig(),
		keys:   cache.NewDefaultKeySerializer(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.repo == nil {
		repo, err := cache.NewCacheService(m.cfg)
		if err != nil {
			return nil, err
		}
		m.repo = repo
	}
	return m, nil
}

// Enabled reports whether lookups and stores go through the map.
func (m *Map) Enabled() bool {
	return m != nil && m.enabled.Load()
}

// SetEnabled switches the map on or off. Entries are kept either way.
func (m *Map) SetEnabled(enabled bool) {
	if m != nil {
		m.enabled.Store(enabled)
	}
}

// Use enables the map while fn runs and restores the previous state.
func (m *Map) Use(fn func() error) error {
	return m.with(true, fn)
}

// Without disables the map while fn runs and restores the previous state.
func (m *Map) Without(fn func() error) error {
	return m.with(false, fn)
}

func (m *Map) with(enabled bool, fn func() error) error {
	if m == nil {
		return fn()
	}
	prev := m.enabled.Swap(enabled)
	defer m.enabled.Store(prev)
	return fn()
}

// Repository returns the underlying store.
func (m *Map) Repository() cache.CacheService {
	if m == nil {
		return nil
	}
	return m.repo
}

// Clear drops every entry.
func (m *Map) Clear(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.logger.Debug().Msg("identity map cleared")
	return m.repo.Clear(ctx)
}

// Key returns the repository key for a type name and id.
func (m *Map) Key(typeName string, id any) string {
	if m == nil || m.keys == nil {
		return cache.NewDefaultKeySerializer().SerializeKey(typeName, id)
	}
	return m.keys.SerializeKey(typeName, id)
}

// Get returns the mapped instance. It always misses while disabled.
func (m *Map) Get(ctx context.Context, typeName string, id any) (any, bool) {
	if !m.Enabled() {
		return nil, false
	}

	key := m.Key(typeName, id)
	v, ok := m.repo.Get(ctx, key)
	m.logger.Debug().Str("key", key).Bool("hit", ok).Msg("identity map lookup")
	return v, ok
}

// Put maps an instance. It does nothing while disabled.
func (m *Map) Put(ctx context.Context, typeName string, id any, instance any) error {
	if !m.Enabled() || instance == nil {
		return nil
	}
	key := m.Key(typeName, id)
	if err := m.repo.Set(ctx, key, instance); err != nil {
		m.logger.Error().Err(err).Str("key", key).Int("mapped", m.repo.Len()).Msg("identity map put failed")
		return fmt.Errorf("identity map: %w", err)
	}
	return nil
}

// Remove drops the entry for (type, id). It runs whether or not the map is
// enabled so deleted records never resurface.
func (m *Map) Remove(ctx context.Context, typeName string, id any) error {
	if m == nil {
		return nil
	}
	key := m.Key(typeName, id)
	m.logger.Debug().Str("key", key).Msg("identity map evict")
	return m.repo.Delete(ctx, key)
}

// RemoveAll drops the entries for every id of typeName.
func (m *Map) RemoveAll(ctx context.Context, typeName string, ids ...any) error {
	if m == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = m.Key(typeName, id)
	}
	m.logger.Debug().Str("type", typeName).Int("count", len(keys)).Msg("identity map evict")
	return m.repo.InvalidateKeys(ctx, keys)
}

// ClearType drops every entry of typeName.
func (m *Map) ClearType(ctx context.Context, typeName string) error {
	if m == nil {
		return nil
	}
	m.logger.Debug().Str("type", typeName).Msg("identity map type cleared")
	return m.repo.DeleteByPrefix(ctx, cache.Prefix(typeName))
}

// Fetch returns the mapped instance for (type, id) or runs fn and maps its
// result. While disabled fn always runs and nothing is stored. A nil result
// from fn is not mapped.
func Fetch[T any](ctx context.Context, m *Map, typeName string, id any, fn cache.FetchFn[T]) (T, error) {
	if !m.Enabled() {
		return fn(ctx)
	}

	key := m.Key(typeName, id)
	missed := false
	v, err := cache.GetOrFetch(ctx, m.repo, key, func(ctx context.Context) (T, error) {
		missed = true
		return fn(ctx)
	})
	if err != nil {
		m.logger.Error().Err(err).Str("key", key).Int("mapped", m.repo.Len()).Msg("identity map fetch failed")
		var zero T
		return zero, fmt.Errorf("identity map: %w", err)
	}
	m.logger.Debug().Str("key", key).Bool("hit", !missed).Msg("identity map fetch")
	return v, nil
}

type contextKey struct{}

// WithContext returns a context carrying m. Models prefer the map found in
// the context over the one they were configured with.
func WithContext(ctx context.Context, m *Map) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// FromContext returns the map stored by WithContext.
func FromContext(ctx context.Context) (*Map, bool) {
	if ctx == nil {
		return nil, false
	}
	m, ok := ctx.Value(contextKey{}).(*Map)
	return m, ok && m != nil
}
