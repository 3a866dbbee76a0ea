package cache

import (
	"github.com/goliatone/go-odm/internal/cacheinfra"
)

// ErrCapacityExceeded is returned when a new key would take the store past
// Config.Capacity.
var ErrCapacityExceeded = cacheinfra.ErrCapacityExceeded

// Config sizes the store behind an identity map. Entries never expire and
// are never evicted; Capacity is a hard limit on the number of keys.
type Config struct {
	Capacity  int
	NumShards int
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService constructs the sturdyc backed service.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:  c.Capacity,
		NumShards: c.NumShards,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:  cfg.Capacity,
		NumShards: cfg.NumShards,
	}
}
