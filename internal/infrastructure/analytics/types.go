package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Risk assessment types
const (
	AssessmentCredit  = "credit"
	AssessmentPayment = "payment"
	AssessmentOverall = "overall"
)

// PaymentDelayRequest asks for the delay prediction of one customer.
type PaymentDelayRequest struct {
	CustomerID string           `json:"customer_id" validate:"required"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	DueDate    *time.Time       `json:"due_date,omitempty"`
	DaysAhead  int              `json:"days_ahead,omitempty" validate:"omitempty,min=1,max=365"`
}

// PaymentDelayPrediction is the service's prediction for one customer.
type PaymentDelayPrediction struct {
	CustomerID         string         `json:"customer_id"`
	DelayProbability   float64        `json:"delay_probability"`
	PredictedDelayDays int            `json:"predicted_delay_days"`
	RiskLevel          string         `json:"risk_level"`
	ConfidenceScore    float64        `json:"confidence_score"`
	Factors            map[string]any `json:"factors,omitempty"`
}

// BulkPaymentDelayRequest asks for predictions of several customers.
type BulkPaymentDelayRequest struct {
	CustomerIDs []string `json:"customer_ids" validate:"required,min=1,dive,required"`
	DaysAhead   int      `json:"days_ahead,omitempty" validate:"omitempty,min=1,max=365"`
}

// BulkPaymentDelayPrediction holds per-customer predictions and a summary.
type BulkPaymentDelayPrediction struct {
	Predictions []PaymentDelayPrediction `json:"predictions"`
	Summary     map[string]any           `json:"summary,omitempty"`
}

// InventoryForecastRequest asks for demand forecasts of inventory items.
// ItemID and ItemIDs are merged; at least one id is required.
type InventoryForecastRequest struct {
	ItemID             string   `json:"item_id,omitempty"`
	ItemIDs            []string `json:"item_ids,omitempty" validate:"omitempty,dive,required"`
	DaysAhead          int      `json:"days_ahead,omitempty" validate:"omitempty,min=1,max=365"`
	IncludeSeasonality bool     `json:"include_seasonality"`
}

// InventoryForecast is the forecast of one item.
type InventoryForecast struct {
	ItemID                string           `json:"item_id"`
	ItemName              string           `json:"item_name"`
	CurrentStock          decimal.Decimal  `json:"current_stock"`
	PredictedDemand       []map[string]any `json:"predicted_demand"`
	ReorderRecommendation map[string]any   `json:"reorder_recommendation"`
	ConfidenceScore       float64          `json:"confidence_score"`
}

// RiskAssessmentRequest asks for a customer risk assessment.
type RiskAssessmentRequest struct {
	CustomerID     string `json:"customer_id" validate:"required"`
	AssessmentType string `json:"assessment_type" validate:"omitempty,oneof=credit payment overall"`
}

// RiskAssessment is a customer risk assessment.
type RiskAssessment struct {
	CustomerID      string           `json:"customer_id"`
	RiskScore       float64          `json:"risk_score"`
	RiskLevel       string           `json:"risk_level"`
	RiskFactors     []map[string]any `json:"risk_factors"`
	Recommendations []string         `json:"recommendations"`
	AssessmentDate  time.Time        `json:"assessment_date"`
}

// Health is the service liveness report.
type Health struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}
