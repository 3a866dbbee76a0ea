package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "odm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.False(t, cfg.IdentityMap.Enabled)
	assert.Equal(t, 10000, cfg.IdentityMap.Capacity)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, `
store:
  driver: sqlite
  dsn: file:odm.db
  metrics: true
identity_map:
  enabled: true
  capacity: 500
  shards: 5
log:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreConfig{Driver: DriverSQLite, DSN: "file:odm.db", Metrics: true}, cfg.Store)
	assert.Equal(t, IdentityMapConfig{Enabled: true, Capacity: 500, Shards: 5}, cfg.IdentityMap)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)

	cc := cfg.CacheConfig()
	assert.Equal(t, 500, cc.Capacity)
	assert.Equal(t, 5, cc.NumShards)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "store:\n  driver: sqlite\n  dsn: file:a.db\n")
	t.Setenv("ODM_STORE_DSN", "file:b.db")
	t.Setenv("ODM_IDENTITY_MAP_ENABLED", "true")
	t.Setenv("ODM_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file:b.db", cfg.Store.DSN)
	assert.True(t, cfg.IdentityMap.Enabled)
	assert.Equal(t, "warn", cfg.LoggerConfig().Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{"valid", func(*Config) {}, nil},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, []string{"store.driver"}},
		{"dsn required", func(c *Config) { c.Store.Driver = DriverPostgres }, []string{"store.dsn"}},
		{"bad cache", func(c *Config) { c.IdentityMap.Capacity = 0 }, []string{"identity_map"}},
		{"shards over capacity", func(c *Config) { c.IdentityMap.Shards = c.IdentityMap.Capacity + 1 }, []string{"identity_map"}},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, []string{"log.level"}},
		{"several", func(c *Config) {
			c.Store.Driver = "mongo"
			c.Log.Level = "loud"
		}, []string{"store.driver", "log.level"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var got []string
			for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
				var fe *FieldError
				require.True(t, errors.As(e, &fe))
				got = append(got, fe.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}
