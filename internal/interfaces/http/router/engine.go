package router

import (
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/telemetry"
	"github.com/erp/mobilesync/internal/interfaces/http/handler"
	"github.com/erp/mobilesync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers are the control API's handlers. Nil optional handlers leave
// their routes out.
type Handlers struct {
	System    *handler.SystemHandler
	Sync      *handler.SyncHandler
	Actions   *handler.ActionHandler
	Records   *handler.RecordHandler
	Device    *handler.DeviceHandler
	Jobs      *handler.SchedulerHandler
	Analytics *handler.AnalyticsHandler
}

// EngineConfig carries what the middleware chain needs.
type EngineConfig struct {
	HTTP          config.HTTPConfig
	Logger        *zap.Logger
	MeterProvider *telemetry.MeterProvider
	Tracing       middleware.TracingConfig
	Clock         shared.Clock
}

// NewEngine builds the gin engine with the middleware chain and every
// route of h.
func NewEngine(cfg EngineConfig, h Handlers) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Tracing(cfg.Tracing), middleware.SpanAttributes())
	engine.Use(middleware.Secure())

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSOrigins
	engine.Use(middleware.CORS(cors))

	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{MeterProvider: cfg.MeterProvider, Logger: log}))
	if cfg.HTTP.RateLimit > 0 {
		engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, cfg.Clock)))
	}
	if cfg.HTTP.BodyLimit > 0 {
		engine.Use(middleware.BodyLimit(cfg.HTTP.BodyLimit))
	}
	// leave room to answer before the server's write deadline
	engine.Use(middleware.Timeout(cfg.HTTP.WriteTimeout * 9 / 10))

	if h.System != nil {
		engine.GET("/health", h.System.Health)
	}

	r := NewRouter(engine, WithAPIVersion("v1"))
	for _, g := range Groups(h) {
		r.Register(g)
	}
	r.Setup()
	return engine
}

// Groups returns the API route groups for h.
func Groups(h Handlers) []*DomainGroup {
	var groups []*DomainGroup

	if h.Sync != nil {
		groups = append(groups,
			NewDomainGroup("sync", "/sync").
				POST("", h.Sync.StartSync).
				POST("/upload", h.Sync.Upload).
				GET("/status", h.Sync.Status).
				GET("/history", h.Sync.History),
			NewDomainGroup("conflicts", "/conflicts").
				GET("", h.Sync.ListConflicts).
				POST("/:id/resolve", h.Sync.ResolveConflict),
		)
	}

	if h.Actions != nil {
		groups = append(groups, NewDomainGroup("actions", "/actions").
			POST("", h.Actions.Queue).
			GET("", h.Actions.ListPending).
			GET("/dead", h.Actions.ListDead).
			POST("/process", h.Actions.Process).
			POST("/:id/retry", h.Actions.Retry).
			DELETE("/:id", h.Actions.Discard))
	}

	if h.Records != nil {
		groups = append(groups, NewDomainGroup("records", "/records").
			GET("/:kind", h.Records.List).
			POST("/:kind", h.Records.Create).
			GET("/:kind/:id", h.Records.Get).
			PUT("/:kind/:id", h.Records.Update).
			DELETE("/:kind/:id", h.Records.Delete))
	}

	if h.Device != nil {
		groups = append(groups, NewDomainGroup("device", "/device").
			GET("/token", h.Device.TokenStatus).
			PUT("/token", h.Device.SetToken).
			DELETE("/token", h.Device.ClearToken))
	}

	if h.Jobs != nil {
		groups = append(groups, NewDomainGroup("jobs", "/jobs").
			GET("", h.Jobs.List).
			POST("/:name/run", h.Jobs.Run))
	}

	if h.Analytics != nil {
		g := NewDomainGroup("analytics", "/analytics").
			GET("/health", h.Analytics.Health).
			POST("/inventory-forecast", h.Analytics.InventoryForecast).
			POST("/risk-assessment", h.Analytics.RiskAssessment)
		g.Group("payment-delay", "/payment-delay").
			POST("", h.Analytics.PaymentDelay).
			POST("/bulk", h.Analytics.PaymentDelayBulk)
		groups = append(groups, g)
	}

	return groups
}
