package di

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-odm/config"
	"github.com/goliatone/go-odm/driver/instrumented"
	"github.com/goliatone/go-odm/driver/memory"
)

func TestNewContainer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.IdentityMap = config.IdentityMapConfig{Enabled: true, Capacity: 1000, Shards: 10}

	container, err := NewContainer(context.Background(), cfg, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.NotNil(t, container.Logger())
	assert.NotNil(t, container.CacheService())
	assert.True(t, container.IdentityMap().Enabled())
	assert.IsType(t, &memory.Database{}, container.Database())
	assert.Nil(t, container.Metrics())

	stored := container.Config()
	assert.Equal(t, 1000, stored.IdentityMap.Capacity)
	assert.Equal(t, 10, stored.IdentityMap.Shards)
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults(context.Background(), WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultConfig(), container.Config())
	assert.False(t, container.IdentityMap().Enabled())
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.IdentityMap.Capacity = 0

	_, err := NewContainer(context.Background(), cfg)
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	cfg.Store.Driver = "mongo"
	_, err = NewContainer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestContainerSingletonBehavior(t *testing.T) {
	container, err := NewContainerWithDefaults(context.Background(), WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	assert.Same(t, container.IdentityMap(), container.IdentityMap())
	assert.Equal(t, container.Database(), container.Database())

	a, err := Define[Customer](container)
	require.NoError(t, err)
	b, err := Define[Customer](container)
	require.NoError(t, err)
	assert.Same(t, a.IdentityMap(), b.IdentityMap())
	assert.Same(t, container.IdentityMap(), a.IdentityMap())
}

func TestContainer_Metrics(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Store.Metrics = true

	container, err := NewContainer(ctx, cfg,
		WithLogOutput(&bytes.Buffer{}),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	require.NotNil(t, container.Metrics())
	assert.IsType(t, &instrumented.Database{}, container.Database())

	customers, err := Define[Customer](container)
	require.NoError(t, err)
	_, err = customers.Create(ctx, map[string]any{"name": "ann", "email": "ann@example.com"})
	require.NoError(t, err)

	m := container.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("customers", "insert", "success")))
}

func TestContainer_WithDatabase(t *testing.T) {
	db := memory.New()
	container, err := NewContainerWithDefaults(context.Background(),
		WithLogOutput(&bytes.Buffer{}),
		WithDatabase(db),
	)
	require.NoError(t, err)
	assert.Same(t, db, container.Database())
}
