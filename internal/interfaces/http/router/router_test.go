package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ok(body string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, body)
	}
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	NewRouter(engine, WithAPIVersion("v2")).
		Register(
			NewDomainGroup("sync", "/sync").POST("", ok("started")),
			NewDomainGroup("jobs", "/jobs").GET("", ok("jobs")),
		).
		Setup()

	w := serve(engine, http.MethodPost, "/api/v2/sync")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "started", w.Body.String())

	assert.Equal(t, "jobs", serve(engine, http.MethodGet, "/api/v2/jobs").Body.String())
	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/api/v1/jobs").Code)
}

func TestDomainGroup_Methods(t *testing.T) {
	engine := gin.New()
	g := NewDomainGroup("records", "/records").
		GET("/:kind", ok("list")).
		POST("/:kind", ok("create")).
		PUT("/:kind/:id", ok("update")).
		DELETE("/:kind/:id", ok("delete"))
	g.RegisterRoutes(engine.Group("/api/v1"))

	assert.Equal(t, "records", g.Name())
	assert.Equal(t, "/records", g.Prefix())

	tests := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/api/v1/records/voucher", "list"},
		{http.MethodPost, "/api/v1/records/voucher", "create"},
		{http.MethodPut, "/api/v1/records/voucher/v-1", "update"},
		{http.MethodDelete, "/api/v1/records/voucher/v-1", "delete"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			w := serve(engine, tt.method, tt.path)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.body, w.Body.String())
		})
	}
}

func TestDomainGroup_MiddlewareAndSubgroups(t *testing.T) {
	engine := gin.New()
	var hits int
	g := NewDomainGroup("analytics", "/analytics").
		Use(func(c *gin.Context) {
			hits++
			c.Next()
		}).
		GET("/health", ok("health"))
	g.Group("payment-delay", "/payment-delay").
		POST("", ok("single")).
		POST("/bulk", ok("bulk"))
	g.RegisterRoutes(engine.Group("/api/v1"))

	assert.Equal(t, "single", serve(engine, http.MethodPost, "/api/v1/analytics/payment-delay").Body.String())
	assert.Equal(t, "bulk", serve(engine, http.MethodPost, "/api/v1/analytics/payment-delay/bulk").Body.String())
	assert.Equal(t, "health", serve(engine, http.MethodGet, "/api/v1/analytics/health").Body.String())
	assert.Equal(t, 3, hits, "group middleware applies to subgroups")
}

func TestDomainGroup_Routes(t *testing.T) {
	g := NewDomainGroup("analytics", "/analytics").GET("/health", ok(""))
	g.Group("payment-delay", "/payment-delay").
		POST("", ok("")).
		POST("/bulk", ok(""))

	assert.Equal(t, []RouteInfo{
		{Method: http.MethodGet, Path: "/analytics/health"},
		{Method: http.MethodPost, Path: "/analytics/payment-delay"},
		{Method: http.MethodPost, Path: "/analytics/payment-delay/bulk"},
	}, g.Routes())
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/sync", joinPath("/sync", ""))
	assert.Equal(t, "/sync/status", joinPath("/sync", "/status"))
	assert.Equal(t, "/sync/status/", joinPath("/sync", "/status/"))
}
