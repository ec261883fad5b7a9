package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/analytics"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"github.com/erp/mobilesync/internal/interfaces/http/dto"
	"github.com/erp/mobilesync/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPredictor struct {
	err     error
	lastReq any
}

func (s *stubPredictor) Health(context.Context) (*analytics.Health, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &analytics.Health{Status: "healthy", Service: "ml-analytics"}, nil
}

func (s *stubPredictor) PaymentDelay(_ context.Context, req analytics.PaymentDelayRequest) (*analytics.PaymentDelayPrediction, error) {
	s.lastReq = req
	if req.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer_id is required", shared.ErrInvalidInput)
	}
	return &analytics.PaymentDelayPrediction{CustomerID: req.CustomerID, RiskLevel: "low"}, nil
}

func (s *stubPredictor) PaymentDelayBulk(_ context.Context, req analytics.BulkPaymentDelayRequest) (*analytics.BulkPaymentDelayPrediction, error) {
	s.lastReq = req
	out := &analytics.BulkPaymentDelayPrediction{}
	for _, id := range req.CustomerIDs {
		out.Predictions = append(out.Predictions, analytics.PaymentDelayPrediction{CustomerID: id})
	}
	return out, nil
}

func (s *stubPredictor) InventoryForecast(_ context.Context, req analytics.InventoryForecastRequest) ([]analytics.InventoryForecast, error) {
	s.lastReq = req
	return []analytics.InventoryForecast{{ItemID: req.ItemID}}, nil
}

func (s *stubPredictor) RiskAssessment(_ context.Context, req analytics.RiskAssessmentRequest) (*analytics.RiskAssessment, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &analytics.RiskAssessment{CustomerID: req.CustomerID, RiskLevel: "medium"}, nil
}

func analyticsEngine(p Predictor) *gin.Engine {
	h := NewAnalyticsHandler(p)
	engine := gin.New()
	engine.GET("/analytics/health", h.Health)
	engine.POST("/analytics/payment-delay", h.PaymentDelay)
	engine.POST("/analytics/payment-delay/bulk", h.PaymentDelayBulk)
	engine.POST("/analytics/inventory-forecast", h.InventoryForecast)
	engine.POST("/analytics/risk-assessment", h.RiskAssessment)
	return engine
}

func TestAnalyticsHandler_Forwards(t *testing.T) {
	p := &stubPredictor{}
	engine := analyticsEngine(p)

	w := testutil.PerformRequest(t, engine, http.MethodGet, "/analytics/health", nil)
	assert.Equal(t, "healthy", testutil.StatusOK[analytics.Health](t, w).Status)

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/analytics/payment-delay", map[string]any{"customer_id": "cust-1", "days_ahead": 30})
	pred := testutil.StatusOK[analytics.PaymentDelayPrediction](t, w)
	assert.Equal(t, "cust-1", pred.CustomerID)
	assert.Equal(t, analytics.PaymentDelayRequest{CustomerID: "cust-1", DaysAhead: 30}, p.lastReq)

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/analytics/payment-delay/bulk", map[string]any{"customer_ids": []string{"a", "b"}})
	bulk := testutil.StatusOK[analytics.BulkPaymentDelayPrediction](t, w)
	assert.Len(t, bulk.Predictions, 2)

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/analytics/inventory-forecast", map[string]any{"item_id": "item-1"})
	forecasts := testutil.StatusOK[[]analytics.InventoryForecast](t, w)
	require.Len(t, forecasts, 1)
	assert.Equal(t, "item-1", forecasts[0].ItemID)

	w = testutil.PerformRequest(t, engine, http.MethodPost, "/analytics/risk-assessment", map[string]any{"customer_id": "cust-9"})
	assert.Equal(t, "medium", testutil.StatusOK[analytics.RiskAssessment](t, w).RiskLevel)
}

func TestAnalyticsHandler_Errors(t *testing.T) {
	t.Run("invalid request", func(t *testing.T) {
		w := testutil.PerformRequest(t, analyticsEngine(&stubPredictor{}), http.MethodPost, "/analytics/payment-delay", map[string]any{})
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeInvalidInput)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := testutil.PerformRequest(t, analyticsEngine(&stubPredictor{}), http.MethodPost, "/analytics/payment-delay", "not an object")
		testutil.AssertErrorResponse(t, w, http.StatusBadRequest, dto.ErrCodeInvalidJSON)
	})

	t.Run("service down", func(t *testing.T) {
		p := &stubPredictor{err: &transport.Error{Code: shared.CodeNetwork, Message: "connection refused"}}
		w := testutil.PerformRequest(t, analyticsEngine(p), http.MethodGet, "/analytics/health", nil)
		testutil.AssertErrorResponse(t, w, http.StatusServiceUnavailable, dto.ErrCodeNetwork)
	})

	t.Run("service failure", func(t *testing.T) {
		p := &stubPredictor{err: &transport.Error{Code: shared.CodeServer, Status: http.StatusInternalServerError, Message: "model not loaded"}}
		w := testutil.PerformRequest(t, analyticsEngine(p), http.MethodPost, "/analytics/risk-assessment", map[string]any{"customer_id": "c"})
		testutil.AssertErrorResponse(t, w, http.StatusBadGateway, dto.ErrCodeUpstream)
	})
}
