package di

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-odm/cache"
	"github.com/goliatone/go-odm/config"
	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/driver/instrumented"
	"github.com/goliatone/go-odm/driver/memory"
	"github.com/goliatone/go-odm/driver/sqldoc"
	"github.com/goliatone/go-odm/identitymap"
	"github.com/goliatone/go-odm/internal/logger"
	"github.com/goliatone/go-odm/model"
)

// Container owns the process wide ODM components: the logger, the identity
// map, the document store and its metrics. Models defined through it share
// all of them.
type Container struct {
	config      config.Config
	logger      *logger.Logger
	identityMap *identitymap.Map
	database    driver.Database
	metrics     *instrumented.Metrics
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	logOutput  io.Writer
	registerer prometheus.Registerer
	database   driver.Database
}

// WithLogOutput sends log lines to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithRegisterer registers the driver metrics with reg instead of the
// default Prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDatabase uses db instead of opening the configured store.
func WithDatabase(db driver.Database) Option {
	return func(o *options) { o.database = db }
}

// NewContainer validates cfg and builds the components it describes.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	lcfg := cfg.LoggerConfig()
	lcfg.Output = o.logOutput
	log := logger.New(lcfg)

	im, err := identitymap.New(
		identitymap.WithConfig(cfg.CacheConfig()),
		identitymap.WithEnabled(cfg.IdentityMap.Enabled),
		identitymap.WithLogger(log.Component("identitymap")),
	)
	if err != nil {
		return nil, err
	}

	db := o.database
	if db == nil {
		if db, err = openDatabase(ctx, cfg.Store, log); err != nil {
			return nil, err
		}
	}

	c := &Container{
		config:      cfg,
		logger:      log,
		identityMap: im,
		database:    db,
	}
	if cfg.Store.Metrics {
		c.metrics = instrumented.NewMetrics(o.registerer)
		c.database = instrumented.WrapDatabase(db, c.metrics, log)
	}

	dlog := log.Component("di")
	dlog.Info().
		Str("driver", cfg.Store.Driver).
		Bool("identity_map", cfg.IdentityMap.Enabled).
		Bool("metrics", cfg.Store.Metrics).
		Msg("container ready")
	return c, nil
}

// NewContainerWithDefaults builds a container over an in-memory store.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.DefaultConfig(), opts...)
}

func openDatabase(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (driver.Database, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite, config.DriverSQLite3, config.DriverPostgres:
		return sqldoc.Open(ctx, cfg.Driver, cfg.DSN, sqldoc.WithLogger(log.Component("sqldoc")))
	default:
		return nil, fmt.Errorf("di: unsupported driver %q", cfg.Driver)
	}
}

// Config returns a copy of the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

// Logger returns the shared logger.
func (c *Container) Logger() *logger.Logger {
	return c.logger
}

// IdentityMap returns the shared identity map.
func (c *Container) IdentityMap() *identitymap.Map {
	return c.identityMap
}

// CacheService returns the store behind the identity map.
func (c *Container) CacheService() cache.CacheService {
	return c.identityMap.Repository()
}

// Database returns the document store, instrumented when metrics are on.
func (c *Container) Database() driver.Database {
	return c.database
}

// Metrics returns the driver metrics, or nil when they are off.
func (c *Container) Metrics() *instrumented.Metrics {
	return c.metrics
}

// Close releases the document store.
func (c *Container) Close() error {
	return c.database.Close()
}

// Define builds a model over the container's store, identity map and
// logger. opts are applied after those defaults and may override them.
//
// Since Go methods cannot have type parameters, this is a package-level
// function: Define[User](container).
func Define[T any](c *Container, opts ...model.Option) (*model.Model[T], error) {
	base := []model.Option{
		model.WithIdentityMap(c.identityMap),
		model.WithLogger(c.logger.Component("model")),
	}
	return model.Define[T](c.database, append(base, opts...)...)
}
