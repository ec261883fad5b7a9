package offline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"go.uber.org/zap"
)

// Connectivity reports whether the device can reach the server.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Subscribable connectivity sources notify listeners of transitions.
type Subscribable interface {
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// notifier fans connectivity transitions out to subscribers.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(bool)
}

func (n *notifier) Subscribe(fn func(online bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(bool))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *notifier) notify(online bool) {
	n.mu.Lock()
	subs := make([]func(bool), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

// ManualConnectivity is driven by the host (OS network callbacks) or tests.
type ManualConnectivity struct {
	notifier
	online atomic.Bool
}

// NewManualConnectivity creates a source with the given initial state.
func NewManualConnectivity(online bool) *ManualConnectivity {
	c := &ManualConnectivity{}
	c.online.Store(online)
	return c
}

// Online implements Connectivity
func (c *ManualConnectivity) Online(context.Context) bool {
	return c.online.Load()
}

// SetOnline updates the state and notifies subscribers on a transition.
func (c *ManualConnectivity) SetOnline(online bool) {
	if c.online.Swap(online) != online {
		c.notify(online)
	}
}

// HealthChecker reports server liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// HealthConnectivity derives connectivity from server health checks. A
// result is reused for ttl to keep health checks off the hot path.
type HealthConnectivity struct {
	notifier
	checker HealthChecker
	ttl     time.Duration
	clock   shared.Clock
	logger  *zap.Logger

	mu        sync.Mutex
	online    bool
	known     bool
	checkedAt time.Time
}

// NewHealthConnectivity wraps checker.
func NewHealthConnectivity(checker HealthChecker, ttl time.Duration, clock shared.Clock, logger *zap.Logger) *HealthConnectivity {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthConnectivity{checker: checker, ttl: ttl, clock: clock, logger: logger}
}

// Online implements Connectivity
func (p *HealthConnectivity) Online(ctx context.Context) bool {
	p.mu.Lock()
	if p.known && p.ttl > 0 && p.clock.Now().Sub(p.checkedAt) < p.ttl {
		online := p.online
		p.mu.Unlock()
		return online
	}
	p.mu.Unlock()
	return p.Check(ctx)
}

// Check runs a health check now and notifies subscribers on a transition.
func (p *HealthConnectivity) Check(ctx context.Context) bool {
	online := p.checker.HealthCheck(ctx)

	p.mu.Lock()
	changed := p.known && p.online != online
	p.online = online
	p.known = true
	p.checkedAt = p.clock.Now()
	p.mu.Unlock()

	if changed {
		p.logger.Info("Connectivity changed", zap.Bool("online", online))
		p.notify(online)
	}
	return online
}

// Watch checks health every interval until ctx is done.
func (p *HealthConnectivity) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
