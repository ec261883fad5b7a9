package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/erp/mobilesync/internal/interfaces/http/handler"
	"github.com/erp/mobilesync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

func allHandlers() Handlers {
	return Handlers{
		System:    handler.NewSystemHandler("mobilesync", "test", nil),
		Sync:      handler.NewSyncHandler(nil),
		Actions:   handler.NewActionHandler(nil),
		Records:   handler.NewRecordHandler(nil, nil),
		Device:    handler.NewDeviceHandler(nil),
		Jobs:      handler.NewSchedulerHandler(nil),
		Analytics: handler.NewAnalyticsHandler(nil),
	}
}

func testConfig(t *testing.T) EngineConfig {
	return EngineConfig{
		HTTP: config.HTTPConfig{
			WriteTimeout: 10 * time.Second,
			BodyLimit:    1 << 10,
			CORSOrigins:  []string{"http://localhost:8081"},
		},
		Logger: zaptest.NewLogger(t),
	}
}

func TestNewEngine_RegistersEveryRoute(t *testing.T) {
	engine := NewEngine(testConfig(t), allHandlers())

	registered := make(map[string]bool)
	for _, r := range engine.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	expected := []string{
		"GET /health",
		"POST /api/v1/sync",
		"POST /api/v1/sync/upload",
		"GET /api/v1/sync/status",
		"GET /api/v1/sync/history",
		"GET /api/v1/conflicts",
		"POST /api/v1/conflicts/:id/resolve",
		"POST /api/v1/actions",
		"GET /api/v1/actions",
		"GET /api/v1/actions/dead",
		"POST /api/v1/actions/process",
		"POST /api/v1/actions/:id/retry",
		"DELETE /api/v1/actions/:id",
		"GET /api/v1/records/:kind",
		"POST /api/v1/records/:kind",
		"GET /api/v1/records/:kind/:id",
		"PUT /api/v1/records/:kind/:id",
		"DELETE /api/v1/records/:kind/:id",
		"GET /api/v1/device/token",
		"PUT /api/v1/device/token",
		"DELETE /api/v1/device/token",
		"GET /api/v1/jobs",
		"POST /api/v1/jobs/:name/run",
		"GET /api/v1/analytics/health",
		"POST /api/v1/analytics/payment-delay",
		"POST /api/v1/analytics/payment-delay/bulk",
		"POST /api/v1/analytics/inventory-forecast",
		"POST /api/v1/analytics/risk-assessment",
	}
	for _, route := range expected {
		assert.True(t, registered[route], "missing route %s", route)
	}
	assert.Len(t, registered, len(expected))
}

func TestNewEngine_OmitsMissingHandlers(t *testing.T) {
	engine := NewEngine(testConfig(t), Handlers{System: handler.NewSystemHandler("mobilesync", "test", nil)})

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/api/v1/jobs").Code)
}

func TestNewEngine_Middleware(t *testing.T) {
	engine := NewEngine(testConfig(t), allHandlers())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "http://localhost:8081", w.Header().Get("Access-Control-Allow-Origin"))

	t.Run("body limit", func(t *testing.T) {
		body := `{"method":"POST","path":"/x","body":"` + strings.Repeat("a", 2048) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeRequestTooLarge)
	})
}

func TestNewEngine_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.RateLimit = 1
	cfg.HTTP.RateBurst = 2
	cfg.Clock = shared.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	engine := NewEngine(cfg, allHandlers())

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health").Code)
	w := serve(engine, http.MethodGet, "/health")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), dto.ErrCodeRateLimited)
}

func TestNewEngine_RequestDeadline(t *testing.T) {
	cfg := testConfig(t)
	engine := NewEngine(cfg, allHandlers())
	var deadline time.Time
	engine.GET("/deadline", func(c *gin.Context) {
		deadline, _ = c.Request.Context().Deadline()
	})

	before := time.Now()
	serve(engine, http.MethodGet, "/deadline")
	require.False(t, deadline.IsZero())
	assert.True(t, deadline.Before(before.Add(cfg.HTTP.WriteTimeout)), "handlers must finish before the write deadline")
}

func TestNewEngine_TracesRequests(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	cfg := testConfig(t)
	cfg.Tracing = middleware.TracingConfig{ServiceName: "mobilesync", Enabled: true, TracerProvider: tp}
	engine := NewEngine(cfg, allHandlers())

	w := serve(engine, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Name(), "/health")
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
}
