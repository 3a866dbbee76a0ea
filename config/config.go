// Package config loads the settings of an ODM process: which store to open,
// how the identity map is sized and how logging behaves. Values come from
// defaults, then an optional YAML file, then ODM_ prefixed environment
// variables (ODM_STORE_DSN, ODM_IDENTITY_MAP_ENABLED, ODM_LOG_LEVEL, ...).
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/goliatone/go-odm/cache"
	"github.com/goliatone/go-odm/internal/logger"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "ODM"

// Store drivers accepted by StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver  string `mapstructure:"driver" yaml:"driver"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	Metrics bool   `mapstructure:"metrics" yaml:"metrics"`
}

// IdentityMapConfig sizes the identity map store. Capacity is the maximum
// number of mapped instances; entries are never evicted.
type IdentityMapConfig struct {
	Enabled  bool `mapstructure:"enabled" yaml:"enabled"`
	Capacity int  `mapstructure:"capacity" yaml:"capacity"`
	Shards   int  `mapstructure:"shards" yaml:"shards"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Pretty     bool   `mapstructure:"pretty" yaml:"pretty"`
	WithCaller bool   `mapstructure:"with_caller" yaml:"with_caller"`
}

// Config is the root configuration.
type Config struct {
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	IdentityMap IdentityMapConfig `mapstructure:"identity_map" yaml:"identity_map"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// DefaultConfig returns an in-memory store with the identity map disabled.
func DefaultConfig() Config {
	c := cache.DefaultConfig()
	return Config{
		Store: StoreConfig{Driver: DriverMemory},
		IdentityMap: IdentityMapConfig{
			Capacity: c.Capacity,
			Shards:   c.NumShards,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate checks the configuration. All failures are reported together.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverSQLite3, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, &FieldError{Field: "store.dsn", Message: "is required for driver " + c.Store.Driver})
		}
	default:
		errs = append(errs, &FieldError{Field: "store.driver", Message: fmt.Sprintf("unsupported driver %q", c.Store.Driver)})
	}

	if err := c.CacheConfig().Validate(); err != nil {
		errs = append(errs, &FieldError{Field: "identity_map", Message: err.Error()})
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "error", "disabled", "off":
	default:
		errs = append(errs, &FieldError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)})
	}

	return errors.Join(errs...)
}

// CacheConfig converts the identity map section to the cache settings.
func (c Config) CacheConfig() cache.Config {
	cc := cache.DefaultConfig()
	cc.Capacity = c.IdentityMap.Capacity
	cc.NumShards = c.IdentityMap.Shards
	return cc
}

// LoggerConfig converts the log section to the logger settings.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      strings.ToLower(c.Log.Level),
		Pretty:     c.Log.Pretty,
		WithCaller: c.Log.WithCaller,
	}
}

// FieldError reports an invalid configuration value.
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Load reads path, which may be empty, applies environment overrides and
// validates the result. A missing file named explicitly is an error.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return Decode(v)
}

// New returns a viper instance carrying the defaults and the environment
// bindings. Callers such as the CLI bind their flags on it before Decode.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	def := DefaultConfig()
	v.SetDefault("store.driver", def.Store.Driver)
	v.SetDefault("store.dsn", def.Store.DSN)
	v.SetDefault("store.metrics", def.Store.Metrics)
	v.SetDefault("identity_map.enabled", def.IdentityMap.Enabled)
	v.SetDefault("identity_map.capacity", def.IdentityMap.Capacity)
	v.SetDefault("identity_map.shards", def.IdentityMap.Shards)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.pretty", def.Log.Pretty)
	v.SetDefault("log.with_caller", def.Log.WithCaller)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
