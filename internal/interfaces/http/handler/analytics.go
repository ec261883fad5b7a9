package handler

import (
	"context"

	"github.com/erp/mobilesync/internal/infrastructure/analytics"
	"github.com/gin-gonic/gin"
)

// Predictor is the ML analytics service client.
type Predictor interface {
	Health(ctx context.Context) (*analytics.Health, error)
	PaymentDelay(ctx context.Context, req analytics.PaymentDelayRequest) (*analytics.PaymentDelayPrediction, error)
	PaymentDelayBulk(ctx context.Context, req analytics.BulkPaymentDelayRequest) (*analytics.BulkPaymentDelayPrediction, error)
	InventoryForecast(ctx context.Context, req analytics.InventoryForecastRequest) ([]analytics.InventoryForecast, error)
	RiskAssessment(ctx context.Context, req analytics.RiskAssessmentRequest) (*analytics.RiskAssessment, error)
}

// AnalyticsHandler proxies prediction requests to the analytics service.
// Request validation happens in the client.
type AnalyticsHandler struct {
	BaseHandler
	client Predictor
}

// NewAnalyticsHandler creates an AnalyticsHandler
func NewAnalyticsHandler(client Predictor) *AnalyticsHandler {
	return &AnalyticsHandler{client: client}
}

// forward binds the body into a Req, calls fn and writes its result.
func forward[Req, Resp any](h *AnalyticsHandler, c *gin.Context, fn func(context.Context, Req) (Resp, error)) {
	var req Req
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := fn(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Health godoc
// @ID           getAnalyticsHealth
// @Summary      Analytics service health
// @Tags         analytics
// @Produce      json
// @Success      200 {object} dto.Response{data=analytics.Health}
// @Failure      503 {object} dto.Response
// @Router       /analytics/health [get]
func (h *AnalyticsHandler) Health(c *gin.Context) {
	health, err := h.client.Health(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, health)
}

// PaymentDelay godoc
// @ID           predictPaymentDelay
// @Summary      Predict a customer's payment delay
// @Tags         analytics
// @Accept       json
// @Produce      json
// @Param        request body analytics.PaymentDelayRequest true "Customer"
// @Success      200 {object} dto.Response{data=analytics.PaymentDelayPrediction}
// @Router       /analytics/payment-delay [post]
func (h *AnalyticsHandler) PaymentDelay(c *gin.Context) {
	forward(h, c, h.client.PaymentDelay)
}

// PaymentDelayBulk godoc
// @ID           predictPaymentDelayBulk
// @Summary      Predict payment delays of several customers
// @Tags         analytics
// @Accept       json
// @Produce      json
// @Param        request body analytics.BulkPaymentDelayRequest true "Customers"
// @Success      200 {object} dto.Response{data=analytics.BulkPaymentDelayPrediction}
// @Router       /analytics/payment-delay/bulk [post]
func (h *AnalyticsHandler) PaymentDelayBulk(c *gin.Context) {
	forward(h, c, h.client.PaymentDelayBulk)
}

// InventoryForecast godoc
// @ID           forecastInventory
// @Summary      Forecast inventory demand
// @Tags         analytics
// @Accept       json
// @Produce      json
// @Param        request body analytics.InventoryForecastRequest true "Items"
// @Success      200 {object} dto.Response{data=[]analytics.InventoryForecast}
// @Router       /analytics/inventory-forecast [post]
func (h *AnalyticsHandler) InventoryForecast(c *gin.Context) {
	forward(h, c, h.client.InventoryForecast)
}

// RiskAssessment godoc
// @ID           assessRisk
// @Summary      Assess a customer's risk
// @Tags         analytics
// @Accept       json
// @Produce      json
// @Param        request body analytics.RiskAssessmentRequest true "Customer"
// @Success      200 {object} dto.Response{data=analytics.RiskAssessment}
// @Router       /analytics/risk-assessment [post]
func (h *AnalyticsHandler) RiskAssessment(c *gin.Context) {
	forward(h, c, h.client.RiskAssessment)
}
