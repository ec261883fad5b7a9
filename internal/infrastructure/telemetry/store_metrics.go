package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreMetricsConfig tunes local store instrumentation.
type StoreMetricsConfig struct {
	SlowQueryThreshold time.Duration
	PoolStatsInterval  time.Duration
}

// StoreMetrics instruments the local store's gorm connection.
type StoreMetrics struct {
	queryTotal     *Counter
	queryDuration  *Histogram
	slowQueryTotal *Counter
	queryErrors    *Counter
	poolConns      *Gauge

	config   StoreMetricsConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStoreMetrics creates the store instruments on meter.
func NewStoreMetrics(meter metric.Meter, cfg StoreMetricsConfig, logger *zap.Logger) (*StoreMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = 100 * time.Millisecond
	}
	if cfg.PoolStatsInterval == 0 {
		cfg.PoolStatsInterval = 30 * time.Second
	}

	m := &StoreMetrics{config: cfg, logger: logger, stopCh: make(chan struct{})}
	var err error
	if m.queryTotal, err = NewCounter(meter, "mobilesync_store_queries_total", "Local store statements by operation and table", "{queries}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "mobilesync_store_query_duration_seconds",
		Description: "Local store statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "mobilesync_store_slow_queries_total", "Local store statements above the slow threshold", "{queries}"); err != nil {
		return nil, err
	}
	if m.queryErrors, err = NewCounter(meter, "mobilesync_store_errors_total", "Failed local store statements", "{queries}"); err != nil {
		return nil, err
	}
	if m.poolConns, err = NewGauge(meter, "mobilesync_store_pool_connections", "Local store connections by state", "{connections}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordQuery records one executed statement.
func (m *StoreMetrics) RecordQuery(ctx context.Context, operation, table string, d time.Duration, err error) {
	operation = strings.ToUpper(operation)
	if operation == "" {
		operation = "OTHER"
	}
	if table == "" {
		table = "unknown"
	}
	attrs := []attribute.KeyValue{AttrDBOperation.String(operation), AttrDBTable.String(table)}
	m.queryTotal.Inc(ctx, attrs...)
	m.queryDuration.RecordDuration(ctx, d, attrs...)
	if d > m.config.SlowQueryThreshold {
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		m.queryErrors.Inc(ctx, attrs...)
	}
}

// StartPoolStatsCollection samples sql.DB pool stats until Stop.
func (m *StoreMetrics) StartPoolStatsCollection(ctx context.Context) {
	if m.sqlDB == nil {
		m.logger.Warn("Cannot start pool stats collection: sql.DB not set")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.collectPoolStats(ctx)
		for {
			select {
			case <-ticker.C:
				m.collectPoolStats(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *StoreMetrics) collectPoolStats(ctx context.Context) {
	stats := m.sqlDB.Stats()
	m.poolConns.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConns.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConns.Record(ctx, int64(stats.MaxOpenConnections), AttrDBState.String("max"))
}

// Stop ends pool stats collection. Safe to call multiple times.
func (m *StoreMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// Name implements gorm.Plugin.
func (m *StoreMetrics) Name() string {
	return "mobilesync:store_metrics"
}

// Initialize implements gorm.Plugin by wrapping every statement callback.
func (m *StoreMetrics) Initialize(db *gorm.DB) error {
	if sqlDB, err := db.DB(); err == nil {
		m.sqlDB = sqlDB
	}

	before := func(tx *gorm.DB) {
		tx.InstanceSet(storeMetricsStartKey, time.Now())
	}
	after := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			operation := op
			if operation == "" {
				operation = detectOperation(tx.Statement.SQL.String())
			}
			var d time.Duration
			if v, ok := tx.InstanceGet(storeMetricsStartKey); ok {
				if start, ok := v.(time.Time); ok {
					d = time.Since(start)
				}
			}
			ctx := tx.Statement.Context
			if ctx == nil {
				ctx = context.Background()
			}
			m.RecordQuery(ctx, operation, tx.Statement.Table, d, tx.Error)
		}
	}

	cb := db.Callback()
	steps := []struct {
		name   string
		op     string
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
	}{
		{"create", "INSERT", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", "SELECT", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", "UPDATE", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", "DELETE", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", "", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", "", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, s := range steps {
		if err := s.before("store_metrics:before_"+s.name, before); err != nil {
			return err
		}
		if err := s.after("store_metrics:after_"+s.name, after(s.op)); err != nil {
			return err
		}
	}
	return nil
}

func detectOperation(stmt string) string {
	stmt = strings.ToUpper(strings.TrimSpace(stmt))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(stmt, op) {
			return op
		}
	}
	return "OTHER"
}

const storeMetricsStartKey = "mobilesync:store_metrics_start"

// RegisterStoreMetrics attaches store metrics to db when the provider is
// enabled. It returns nil metrics otherwise.
func RegisterStoreMetrics(db *gorm.DB, mp *MeterProvider, cfg StoreMetricsConfig, logger *zap.Logger) (*StoreMetrics, error) {
	if mp == nil || !mp.IsEnabled() {
		return nil, nil
	}
	m, err := NewStoreMetrics(mp.Meter("mobilesync.store"), cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Use(m); err != nil {
		return nil, err
	}
	return m, nil
}
