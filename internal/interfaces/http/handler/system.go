package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// HealthIndicator reports one dependency's state for the health endpoint.
type HealthIndicator func(ctx context.Context) bool

// SystemHandler serves the health endpoint.
type SystemHandler struct {
	BaseHandler
	name       string
	version    string
	startTime  time.Time
	indicators map[string]HealthIndicator
}

// NewSystemHandler creates a SystemHandler. indicators are reported by name;
// none of them makes the endpoint fail, the engine works offline.
func NewSystemHandler(name, version string, indicators map[string]HealthIndicator) *SystemHandler {
	return &SystemHandler{
		name:       name,
		version:    version,
		startTime:  time.Now(),
		indicators: indicators,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string          `json:"status" example:"ok"`
	Name      string          `json:"name" example:"mobilesync"`
	Version   string          `json:"version" example:"1.0.0"`
	GoVersion string          `json:"go_version" example:"go1.25.5"`
	Uptime    string          `json:"uptime" example:"1h30m45s"`
	Checks    map[string]bool `json:"checks,omitempty"`
}

// Health godoc
// @ID           getHealth
// @Summary      Health check
// @Description  Reports liveness and the state of the ERP server, realtime channel and local store
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response{data=HealthResponse}
// @Router       /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	if len(h.indicators) > 0 {
		resp.Checks = make(map[string]bool, len(h.indicators))
		for name, indicator := range h.indicators {
			ok := indicator(c.Request.Context())
			resp.Checks[name] = ok
			if !ok {
				resp.Status = "degraded"
			}
		}
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}
