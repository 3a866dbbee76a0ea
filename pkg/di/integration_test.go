package di

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-odm/config"
	"github.com/goliatone/go-odm/criteria"
	"github.com/goliatone/go-odm/identitymap"
	"github.com/goliatone/go-odm/model"
)

// Customer is the model used by the container tests.
type Customer struct {
	model.Document
	Name  string `odm:"name,alias=n,required"`
	Email string `odm:"email,unique,email"`
	Tier  string `odm:"tier,default=free"`
}

func newSQLiteContainer(t *testing.T, identityMap bool) *Container {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store = config.StoreConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "odm.db"),
	}
	cfg.IdentityMap.Enabled = identityMap

	container, err := NewContainer(context.Background(), cfg, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })
	return container
}

func TestIntegration_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	container := newSQLiteContainer(t, false)

	customers, err := Define[Customer](container)
	require.NoError(t, err)
	require.NoError(t, customers.EnsureIndexes(ctx))

	ann, err := customers.Create(ctx, map[string]any{"name": "ann", "email": "ann@example.com"})
	require.NoError(t, err)
	_, err = customers.Create(ctx, map[string]any{"name": "bob", "email": "bob@example.com", "tier": "gold"})
	require.NoError(t, err)

	_, err = customers.Create(ctx, map[string]any{"name": "eve", "email": "ann@example.com"})
	assert.Error(t, err, "unique email")

	_, err = customers.Create(ctx, map[string]any{"name": "zed", "email": "not-an-email"})
	assert.ErrorIs(t, err, model.ErrValidation)

	loaded, err := customers.Where(criteria.M{"name": "ann"}).First(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, ann.ID(), loaded.ID())
	assert.Equal(t, "free", loaded.Tier)

	gold, err := customers.FindBy(ctx, "find_all_by_tier", "gold")
	require.NoError(t, err)
	assert.Len(t, gold.([]*Customer), 1)

	n, err := customers.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIntegration_IdentityMapPerRequest(t *testing.T) {
	ctx := context.Background()
	container := newSQLiteContainer(t, false)

	customers, err := Define[Customer](container)
	require.NoError(t, err)
	ann, err := customers.Create(ctx, map[string]any{"name": "ann", "email": "ann@example.com"})
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		same bool
	)
	handler := identitymap.Middleware(container.IdentityMap())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, err := customers.FindOne(r.Context(), ann.ID())
		require.NoError(t, err)
		b, err := customers.FindOne(r.Context(), ann.ID())
		require.NoError(t, err)
		mu.Lock()
		same = a == b
		mu.Unlock()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, same, "one instance per document within a request")
	assert.False(t, container.IdentityMap().Enabled())

	a, err := customers.FindOne(ctx, ann.ID())
	require.NoError(t, err)
	b, err := customers.FindOne(ctx, ann.ID())
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestIntegration_ReopenStore(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "odm.db")
	cfg := config.DefaultConfig()
	cfg.Store = config.StoreConfig{Driver: config.DriverSQLite, DSN: dsn}

	first, err := NewContainer(ctx, cfg, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	customers, err := Define[Customer](first)
	require.NoError(t, err)
	ann, err := customers.Create(ctx, map[string]any{"name": "ann", "email": "ann@example.com"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewContainer(ctx, cfg, WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	customers, err = Define[Customer](second)
	require.NoError(t, err)

	found, err := customers.MustFindOne(ctx, ann.ID())
	require.NoError(t, err)
	assert.Equal(t, "ann", found.Name)
}
