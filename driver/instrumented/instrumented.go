// Package instrumented decorates a driver.Collection with Prometheus
// metrics and structured logging.
package instrumented

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goliatone/go-odm/driver"
	"github.com/goliatone/go-odm/internal/logger"
)

// Metrics holds the collectors shared by every wrapped collection
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DocumentsReturned *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_driver_operations_total",
				Help: "Total number of collection operations",
			},
			[]string{"collection", "operation", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "odm_driver_operation_duration_seconds",
				Help:    "Duration of collection operations in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"collection", "operation"},
		),
		DocumentsReturned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "odm_driver_documents_returned_total",
				Help: "Total number of documents returned by finds",
			},
			[]string{"collection"},
		),
	}
}

func (m *Metrics) record(collection, operation string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(collection, operation, status).Inc()
	m.OperationDuration.WithLabelValues(collection, operation).Observe(d.Seconds())
}

// Collection wraps another collection.
type Collection struct {
	next    driver.Collection
	metrics *Metrics
	log     *logger.Logger
}

var _ driver.Collection = (*Collection)(nil)

// Wrap decorates next. Either metrics or log may be nil.
func Wrap(next driver.Collection, metrics *Metrics, log *logger.Logger) *Collection {
	if log == nil {
		log = logger.Nop()
	}
	return &Collection{next: next, metrics: metrics, log: log}
}

// Unwrap returns the decorated collection.
func (c *Collection) Unwrap() driver.Collection { return c.next }

func (c *Collection) observe(operation string, start time.Time, err error) {
	d := time.Since(start)
	if c.metrics != nil {
		c.metrics.record(c.next.Name(), operation, d, err)
	}
	c.log.LogDriverOperation(c.next.Name(), operation, d, err)
}

// Name implements driver.Collection.
func (c *Collection) Name() string { return c.next.Name() }

// Find implements driver.Collection.
func (c *Collection) Find(ctx context.Context, req driver.FindRequest) ([]driver.Doc, error) {
	start := time.Now()
	docs, err := c.next.Find(ctx, req)
	c.observe("find", start, err)
	if err == nil && c.metrics != nil {
		c.metrics.DocumentsReturned.WithLabelValues(c.next.Name()).Add(float64(len(docs)))
	}
	return docs, err
}

// FindOne implements driver.Collection.
func (c *Collection) FindOne(ctx context.Context, criteria, projection driver.Doc) (driver.Doc, error) {
	start := time.Now()
	doc, err := c.next.FindOne(ctx, criteria, projection)
	c.observe("find_one", start, err)
	if err == nil && doc != nil && c.metrics != nil {
		c.metrics.DocumentsReturned.WithLabelValues(c.next.Name()).Inc()
	}
	return doc, err
}

// Count implements driver.Collection.
func (c *Collection) Count(ctx context.Context, criteria driver.Doc) (int, error) {
	start := time.Now()
	n, err := c.next.Count(ctx, criteria)
	c.observe("count", start, err)
	return n, err
}

// Insert implements driver.Collection.
func (c *Collection) Insert(ctx context.Context, doc driver.Doc) (any, error) {
	start := time.Now()
	id, err := c.next.Insert(ctx, doc)
	c.observe("insert", start, err)
	return id, err
}

// Update implements driver.Collection.
func (c *Collection) Update(ctx context.Context, criteria, update driver.Doc, opts driver.UpdateOptions) (driver.UpdateResult, error) {
	start := time.Now()
	res, err := c.next.Update(ctx, criteria, update, opts)
	c.observe("update", start, err)
	return res, err
}

// Remove implements driver.Collection.
func (c *Collection) Remove(ctx context.Context, criteria driver.Doc) (driver.RemoveResult, error) {
	start := time.Now()
	res, err := c.next.Remove(ctx, criteria)
	c.observe("remove", start, err)
	return res, err
}

// CreateIndex implements driver.Collection.
func (c *Collection) CreateIndex(ctx context.Context, spec driver.IndexSpec, opts driver.IndexOptions) error {
	start := time.Now()
	err := c.next.CreateIndex(ctx, spec, opts)
	c.observe("create_index", start, err)
	return err
}

// DropIndex implements driver.Collection.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	start := time.Now()
	err := c.next.DropIndex(ctx, name)
	c.observe("drop_index", start, err)
	return err
}

// DropIndexes implements driver.Collection.
func (c *Collection) DropIndexes(ctx context.Context) error {
	start := time.Now()
	err := c.next.DropIndexes(ctx)
	c.observe("drop_indexes", start, err)
	return err
}

// Indexes implements driver.Collection.
func (c *Collection) Indexes(ctx context.Context) ([]driver.IndexInfo, error) {
	start := time.Now()
	infos, err := c.next.Indexes(ctx)
	c.observe("indexes", start, err)
	return infos, err
}

// Database wraps every collection handed out by another database.
type Database struct {
	next    driver.Database
	metrics *Metrics
	log     *logger.Logger
}

// WrapDatabase decorates next.
func WrapDatabase(next driver.Database, metrics *Metrics, log *logger.Logger) *Database {
	return &Database{next: next, metrics: metrics, log: log}
}

// Collection implements driver.Database.
func (db *Database) Collection(name string) driver.Collection {
	return Wrap(db.next.Collection(name), db.metrics, db.log)
}

// Close implements driver.Database.
func (db *Database) Close() error { return db.next.Close() }
