package handler

import (
	"context"

	"github.com/erp/mobilesync/internal/infrastructure/auth"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// Credentials manages the device token sent to the ERP server.
type Credentials interface {
	Status(ctx context.Context) (auth.Status, error)
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// DeviceHandler serves the device token. The token itself is never
// returned.
type DeviceHandler struct {
	BaseHandler
	creds Credentials
}

// NewDeviceHandler creates a DeviceHandler
func NewDeviceHandler(creds Credentials) *DeviceHandler {
	return &DeviceHandler{creds: creds}
}

// TokenStatus godoc
// @ID           getDeviceToken
// @Summary      Device token status
// @Tags         device
// @Produce      json
// @Success      200 {object} dto.Response{data=auth.Status}
// @Router       /device/token [get]
func (h *DeviceHandler) TokenStatus(c *gin.Context) {
	st, err := h.creds.Status(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, st)
}

// SetToken godoc
// @ID           setDeviceToken
// @Summary      Store the device token
// @Description  Accepts a JWT or an opaque token. An expired JWT is rejected.
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        request body dto.DeviceTokenRequest true "Token"
// @Success      200 {object} dto.Response{data=auth.Status}
// @Failure      400 {object} dto.Response
// @Router       /device/token [put]
func (h *DeviceHandler) SetToken(c *gin.Context) {
	var req dto.DeviceTokenRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if err := h.creds.SetToken(c.Request.Context(), req.Token); err != nil {
		h.HandleError(c, err)
		return
	}
	h.TokenStatus(c)
}

// ClearToken godoc
// @ID           clearDeviceToken
// @Summary      Forget the device token
// @Tags         device
// @Success      204
// @Router       /device/token [delete]
func (h *DeviceHandler) ClearToken(c *gin.Context) {
	if err := h.creds.Clear(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(204)
}
