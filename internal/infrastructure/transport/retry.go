package transport

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/erp/mobilesync/internal/infrastructure/config"
)

// Backoff strategies
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy controls how failed requests are retried.
type RetryPolicy struct {
	Retries    int
	RetryDelay time.Duration
	MaxDelay   time.Duration
	Backoff    string
	Jitter     bool
}

// DefaultRetryPolicy is exponential with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries:    3,
		RetryDelay: 500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Backoff:    BackoffExponential,
		Jitter:     true,
	}
}

// PolicyFromConfig builds a policy from the transport section.
func PolicyFromConfig(cfg config.TransportConfig) RetryPolicy {
	p := RetryPolicy{
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		MaxDelay:   cfg.MaxDelay,
		Backoff:    cfg.Backoff,
		Jitter:     cfg.Jitter,
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	return p
}

// ShouldRetry reports whether a failure of attempt (0-based) may be retried.
func (p RetryPolicy) ShouldRetry(err *Error, attempt int) bool {
	if err == nil || attempt >= p.Retries {
		return false
	}
	return err.Retryable()
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.RetryDelay <= 0 {
		return 0
	}
	delay := p.RetryDelay
	if p.Backoff != BackoffFixed && attempt > 1 {
		delay = time.Duration(float64(p.RetryDelay) * math.Pow(2, float64(attempt-1)))
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter {
		// ±25%
		jitter := float64(delay) * 0.25 * (rand.Float64()*2 - 1)
		delay = time.Duration(float64(delay) + jitter)
	}
	return delay
}
