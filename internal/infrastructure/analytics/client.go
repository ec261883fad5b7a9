// Package analytics calls the ML analytics service for payment delay
// predictions, inventory forecasts and customer risk assessments.
// Responses are memoized in the engine's advisory cache.
package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Cache is the advisory cache responses are memoized in.
type Cache interface {
	GetCache(ctx context.Context, key string) ([]byte, bool, error)
	SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Client is the ML analytics service client.
type Client struct {
	transport *transport.Client
	cache     Cache
	ttl       time.Duration
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewClient creates a client for cfg. Extra transport options (token
// source, observer, test HTTP client) are passed through.
func NewClient(cfg config.AnalyticsConfig, cache Cache, log *zap.Logger, opts ...transport.Option) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = logger.Component(log, "analytics")
	tc, err := transport.NewClient(config.TransportConfig{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		Retries:    1,
		RetryDelay: 500 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Backoff:    transport.BackoffExponential,
		Jitter:     true,
		HealthPath: "/health",
	}, append([]transport.Option{transport.WithLogger(log)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics transport: %w", err)
	}
	return &Client{
		transport: tc,
		cache:     cache,
		ttl:       cfg.CacheTTL,
		validate:  validator.New(),
		logger:    log,
	}, nil
}

// Health returns the service's liveness report. It is never cached.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.transport.Get(ctx, "/health", &transport.RequestOptions{NoRetry: true, CancelKey: "analytics:health"})
	if err != nil {
		return nil, err
	}
	var h Health
	if err := transport.DecodeJSON(resp, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// PaymentDelay predicts the payment delay of one customer.
func (c *Client) PaymentDelay(ctx context.Context, req PaymentDelayRequest) (*PaymentDelayPrediction, error) {
	if req.DaysAhead == 0 {
		req.DaysAhead = 30
	}
	var out PaymentDelayPrediction
	if err := call(ctx, c, "/payment-delay", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentDelayBulk predicts payment delays of several customers.
func (c *Client) PaymentDelayBulk(ctx context.Context, req BulkPaymentDelayRequest) (*BulkPaymentDelayPrediction, error) {
	if req.DaysAhead == 0 {
		req.DaysAhead = 30
	}
	var out BulkPaymentDelayPrediction
	if err := call(ctx, c, "/payment-delay/bulk", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InventoryForecast forecasts demand of the requested items.
func (c *Client) InventoryForecast(ctx context.Context, req InventoryForecastRequest) ([]InventoryForecast, error) {
	if req.ItemID == "" && len(req.ItemIDs) == 0 {
		return nil, fmt.Errorf("%w: item_id or item_ids is required", shared.ErrInvalidInput)
	}
	if req.DaysAhead == 0 {
		req.DaysAhead = 90
	}
	var out []InventoryForecast
	if err := call(ctx, c, "/inventory-forecast", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RiskAssessment assesses a customer's credit, payment or overall risk.
func (c *Client) RiskAssessment(ctx context.Context, req RiskAssessmentRequest) (*RiskAssessment, error) {
	if req.AssessmentType == "" {
		req.AssessmentType = AssessmentCredit
	}
	var out RiskAssessment
	if err := call(ctx, c, "/risk-assessment", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call validates req, serves it from cache when possible and otherwise
// POSTs it to path, caching the decoded response.
func call[T any](ctx context.Context, c *Client, path string, req any, out *T) error {
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode analytics request: %w", err)
	}
	key := cacheKey(path, body)

	if cached, ok := c.cached(ctx, key); ok {
		if err := json.Unmarshal(cached, out); err == nil {
			c.logger.Debug("Analytics cache hit", zap.String("path", path))
			return nil
		}
	}

	resp, err := c.transport.Do(ctx, http.MethodPost, path, &transport.RequestOptions{Body: json.RawMessage(body)})
	if err != nil {
		return err
	}
	if err := transport.DecodeJSON(resp, out); err != nil {
		return err
	}
	c.store(ctx, key, resp.Data())
	return nil
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil || c.ttl <= 0 {
		return nil, false
	}
	v, ok, err := c.cache.GetCache(ctx, key)
	if err != nil {
		c.logger.Warn("Analytics cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return v, ok
}

func (c *Client) store(ctx context.Context, key string, value []byte) {
	if c.cache == nil || c.ttl <= 0 {
		return
	}
	if err := c.cache.SetCache(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn("Analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func cacheKey(path string, body []byte) string {
	sum := sha256.Sum256(body)
	return "analytics:" + path + ":" + hex.EncodeToString(sum[:16])
}
