package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appoffline "github.com/erp/mobilesync/internal/application/offline"
	"github.com/erp/mobilesync/internal/application/syncengine"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/analytics"
	"github.com/erp/mobilesync/internal/infrastructure/auth"
	"github.com/erp/mobilesync/internal/infrastructure/cache"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/persistence"
	"github.com/erp/mobilesync/internal/infrastructure/realtime"
	"github.com/erp/mobilesync/internal/infrastructure/scheduler"
	"github.com/erp/mobilesync/internal/infrastructure/telemetry"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"github.com/erp/mobilesync/internal/interfaces/http/handler"
	"github.com/erp/mobilesync/internal/interfaces/http/middleware"
	"github.com/erp/mobilesync/internal/interfaces/http/router"
	"go.uber.org/zap"
)

const version = "1.0.0"

const (
	deviceHeader      = "X-Device-ID"
	healthCacheTTL    = 5 * time.Second
	slowQuery         = 200 * time.Millisecond
	poolStatsInterval = 30 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "Create or upgrade the local store schema and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("device_id", cfg.App.DeviceID),
	)

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.SQLLevel),
		logger.WithSlowThreshold(slowQuery))

	// Opening the database migrates the schema.
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to open local store", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing local store", zap.Error(err))
		}
	}()
	if *migrateOnly {
		log.Info("Local store schema is up to date", zap.String("driver", cfg.Database.Driver))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, db, log); err != nil {
		log.Error("Sync engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Sync engine exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, db *persistence.Database, log *zap.Logger) error {
	clock := shared.SystemClock{}

	mp, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, logger.Component(log, "telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Warn("Meter provider shutdown failed", zap.Error(err))
		}
	}()

	tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, logger.Component(log, "telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("Tracer provider shutdown failed", zap.Error(err))
		}
	}()

	lp, err := telemetry.NewLoggerProvider(ctx, cfg.Telemetry, logger.Component(log, "telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := lp.Shutdown(context.Background()); err != nil {
			log.Warn("Logger provider shutdown failed", zap.Error(err))
		}
	}()
	log = lp.Bridge(log, cfg.Telemetry.ServiceName)

	dbSystem := cfg.Database.Driver
	if dbSystem == "postgres" {
		dbSystem = "postgresql"
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:            cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem:           dbSystem,
		SlowQueryThreshold: slowQuery,
	}, logger.Component(log, "store")); err != nil {
		return fmt.Errorf("register store tracing: %w", err)
	}

	storeMetrics, err := telemetry.RegisterStoreMetrics(db.DB, mp, telemetry.StoreMetricsConfig{
		SlowQueryThreshold: slowQuery,
		PoolStatsInterval:  poolStatsInterval,
	}, logger.Component(log, "store"))
	if err != nil {
		return fmt.Errorf("register store metrics: %w", err)
	}
	if storeMetrics != nil {
		storeMetrics.StartPoolStatsCollection(ctx)
		defer storeMetrics.Stop()
	}

	syncMetrics, err := telemetry.NewSyncMetrics(mp.Meter("mobilesync.sync"), logger.Component(log, "metrics"))
	if err != nil {
		return fmt.Errorf("create sync metrics: %w", err)
	}
	defer syncMetrics.Stop()

	storeOpts := []persistence.StoreOption{
		persistence.WithClock(clock),
		persistence.WithHistoryRetention(cfg.Sync.HistoryRetention),
	}
	if cfg.Cache.Backend == "redis" {
		redisCache, err := cache.NewRedisCacheBackend(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddr(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = redisCache.Close()
		}()
		storeOpts = append(storeOpts, persistence.WithCacheBackend(redisCache))
		log.Info("Advisory cache backed by redis", zap.String("addr", cfg.Cache.RedisAddr()))
	}
	store := persistence.NewLocalStore(db.DB, storeOpts...)

	creds := auth.NewDeviceCredentials(store, cfg.Transport.AuthToken, clock)

	client, err := transport.NewClient(cfg.Transport,
		transport.WithTokenSource(creds),
		transport.WithLogger(logger.Component(log, "transport")),
		transport.WithObserver(syncMetrics),
		transport.WithClock(clock),
	)
	if err != nil {
		return err
	}
	if cfg.App.DeviceID != "" {
		client.SetHeader(deviceHeader, cfg.App.DeviceID)
	}

	conn := appoffline.NewHealthConnectivity(client, healthCacheTTL, clock, logger.Component(log, "connectivity"))
	go conn.Watch(ctx, cfg.Queue.HealthCheckInterval)

	orch := syncengine.New(store, client, cfg.Sync,
		syncengine.WithClock(clock),
		syncengine.WithLogger(logger.Component(log, "sync")),
		syncengine.WithMetrics(syncMetrics),
	)

	queue := appoffline.NewQueueService(store, appoffline.NewTransportExecutor(client), conn, cfg.Queue,
		appoffline.WithClock(clock),
		appoffline.WithLogger(logger.Component(log, "queue")),
		appoffline.WithOutcomeRecorder(syncMetrics),
	)
	stopQueue := queue.Start(ctx)
	defer stopQueue()

	syncMetrics.StartPeriodicCollection(ctx, orch, cfg.Telemetry.ExportInterval)

	channel, err := startRealtime(ctx, cfg, creds, orch, syncMetrics, log)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(cfg.Scheduler, clock, logger.Component(log, "scheduler"))
	if cfg.Scheduler.Enabled {
		if err := scheduler.RegisterEngineJobs(sched, cfg.Scheduler, scheduler.EngineJobs{
			Settings: store,
			Syncer:   orch,
			Queue:    queue,
			Cache:    store,
		}); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				log.Warn("Scheduler stop timed out", zap.Error(err))
			}
		}()
	}

	var predictor *analytics.Client
	if cfg.Analytics.BaseURL != "" {
		predictor, err = analytics.NewClient(cfg.Analytics, store, logger.Component(log, "analytics"),
			transport.WithTokenSource(creds),
			transport.WithClock(clock),
		)
		if err != nil {
			return err
		}
	}

	if !cfg.HTTP.Enabled {
		<-ctx.Done()
		log.Info("Shutting down sync engine...")
		return nil
	}

	indicators := map[string]handler.HealthIndicator{
		"store": func(context.Context) bool { return db.Ping() == nil },
		"erp":   conn.Online,
	}
	if channel != nil {
		indicators["realtime"] = func(context.Context) bool { return channel.Connected() }
	}

	handlers := router.Handlers{
		System:  handler.NewSystemHandler(cfg.App.Name, version, indicators),
		Sync:    handler.NewSyncHandler(orch),
		Actions: handler.NewActionHandler(queue),
		Records: handler.NewRecordHandler(store, orch),
		Device:  handler.NewDeviceHandler(creds),
	}
	if cfg.Scheduler.Enabled {
		handlers.Jobs = handler.NewSchedulerHandler(sched)
	}
	if predictor != nil {
		handlers.Analytics = handler.NewAnalyticsHandler(predictor)
	}

	tracing := middleware.TracingConfig{ServiceName: cfg.Telemetry.ServiceName, Enabled: tp.IsEnabled()}
	engine := router.NewEngine(router.EngineConfig{
		HTTP:          cfg.HTTP,
		Logger:        logger.Component(log, "http"),
		MeterProvider: mp,
		Tracing:       tracing,
		Clock:         clock,
	}, handlers)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Control API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
	}
	log.Info("Shutting down sync engine...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control API forced to shutdown: %w", err)
	}
	return nil
}

// startRealtime connects the push channel in the background and feeds
// data-update events into the orchestrator. It returns nil when realtime is
// disabled.
func startRealtime(ctx context.Context, cfg *config.Config, creds *auth.DeviceCredentials, orch *syncengine.Orchestrator, observer realtime.ConnectionObserver, log *zap.Logger) (*realtime.Channel, error) {
	if !cfg.Realtime.Enabled {
		return nil, nil
	}
	rtLog := logger.Component(log, "realtime")
	opts := []realtime.Option{
		realtime.WithTokenSource(creds),
		realtime.WithLogger(rtLog),
		realtime.WithObserver(observer),
	}
	if cfg.App.DeviceID != "" {
		opts = append(opts, realtime.WithHeader(deviceHeader, cfg.App.DeviceID))
	}
	channel, err := realtime.NewChannel(cfg.Realtime, opts...)
	if err != nil {
		return nil, err
	}
	channel.On(realtime.EventDataUpdate, func(ctx context.Context, msg realtime.Message) {
		update, err := realtime.DecodeDataUpdate(msg)
		if err != nil {
			rtLog.Warn("Dropping malformed data update", zap.Error(err))
			return
		}
		if err := orch.ApplyRemoteChange(ctx, update); err != nil {
			rtLog.Error("Applying pushed change failed",
				zap.String("entity_type", string(update.EntityType)),
				zap.Error(err),
			)
		}
	})
	go func() {
		if err := channel.Start(ctx); err != nil {
			rtLog.Error("Realtime channel failed", zap.Error(err))
		}
	}()
	return channel, nil
}
