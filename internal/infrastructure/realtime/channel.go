// Package realtime keeps a websocket connection to the ERP push endpoint,
// redialing with backoff and dispatching inbound events to handlers in
// arrival order.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/erp/mobilesync/internal/infrastructure/transport"
	"go.uber.org/zap"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 4 << 20
)

// ErrNotConnected is returned by Emit while the channel is down.
var ErrNotConnected = errors.New("realtime channel not connected")

// Handler processes one inbound message. Handlers run sequentially.
type Handler func(ctx context.Context, msg Message)

// ConnectionObserver is told about connection state changes.
type ConnectionObserver interface {
	ConnectionChanged(ctx context.Context, connected bool)
}

// Channel is a self-healing websocket client.
type Channel struct {
	url       string
	heartbeat time.Duration
	initial   time.Duration
	maxDelay  time.Duration
	tokens    transport.TokenSource
	header    http.Header
	clock     shared.Clock
	logger    *zap.Logger
	observer  ConnectionObserver

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected atomic.Bool
	started   atomic.Bool

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	inbound  chan Message
	activity chan Message
}

// Option configures a Channel.
type Option func(*Channel)

// WithTokenSource authenticates the websocket handshake.
func WithTokenSource(ts transport.TokenSource) Option {
	return func(c *Channel) { c.tokens = ts }
}

// WithHeader adds a handshake header.
func WithHeader(key, value string) Option {
	return func(c *Channel) { c.header.Set(key, value) }
}

// WithLogger sets the channel logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.logger = logger.Component(l, "realtime") }
}

// WithClock sets the clock used for message timestamps.
func WithClock(clock shared.Clock) Option {
	return func(c *Channel) { c.clock = clock }
}

// WithObserver registers a connection observer.
func WithObserver(o ConnectionObserver) Option {
	return func(c *Channel) { c.observer = o }
}

// NewChannel creates a channel for the configured push endpoint. It does
// not connect until Start is called.
func NewChannel(cfg config.RealtimeConfig, opts ...Option) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("realtime URL is required")
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 64
	}
	c := &Channel{
		url:       cfg.URL,
		heartbeat: cfg.HeartbeatInterval,
		initial:   cfg.ReconnectInitial,
		maxDelay:  cfg.ReconnectMax,
		header:    http.Header{},
		clock:     shared.SystemClock{},
		logger:    zap.NewNop(),
		handlers:  make(map[string][]Handler),
		inbound:   make(chan Message, buffer),
		activity:  make(chan Message, buffer),
	}
	if c.heartbeat <= 0 {
		c.heartbeat = 30 * time.Second
	}
	if c.initial <= 0 {
		c.initial = time.Second
	}
	if c.maxDelay <= 0 {
		c.maxDelay = time.Minute
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// On registers a handler for event.
func (c *Channel) On(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Off removes every handler for event.
func (c *Channel) Off(event string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers, event)
}

// Connected reports whether a live connection exists.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Start connects and keeps the connection alive until ctx is done. It
// blocks; run it in its own goroutine.
func (c *Channel) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("realtime channel already started")
	}
	defer c.started.Store(false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.dispatchLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.activityLoop(ctx)
	}()
	defer wg.Wait()

	b := c.newBackoff()
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			b.Reset()
			c.setConn(ctx, conn)
			err = c.serve(ctx, conn)
			c.clearConn(ctx)
		}
		if ctx.Err() != nil {
			c.logger.Info("Realtime channel stopped")
			return nil
		}

		wait := b.NextBackOff()
		c.logger.Warn("Realtime connection lost, redialing",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Channel) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := c.header.Clone()
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("realtime token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// serve runs the read loop and the heartbeat until either fails.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- c.readLoop(connCtx, conn) }()
	go func() { errCh <- c.heartbeatLoop(connCtx, conn) }()

	err := <-errCh
	cancel()
	if ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutting down")
	} else {
		_ = conn.CloseNow()
	}
	<-errCh
	return err
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			c.logger.Warn("Dropping malformed realtime frame", zap.Int("bytes", len(data)))
			continue
		}

		select {
		case c.inbound <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// heartbeatLoop pings at a fixed interval. A ping needs the concurrent
// read loop to receive its pong.
func (c *Channel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.heartbeat)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func (c *Channel) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbound:
			c.handlersMu.RLock()
			handlers := append([]Handler(nil), c.handlers[msg.Event]...)
			c.handlersMu.RUnlock()

			for _, h := range handlers {
				c.invoke(ctx, h, msg)
			}
		}
	}
}

func (c *Channel) invoke(ctx context.Context, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Realtime handler panicked",
				zap.String("event", msg.Event),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, msg)
}

func (c *Channel) activityLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.activity:
			if err := c.write(ctx, msg); err != nil {
				c.logger.Debug("User activity not delivered", zap.Error(err))
			}
		}
	}
}

func (c *Channel) setConn(ctx context.Context, conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)
	c.logger.Info("Realtime channel connected", zap.String("url", c.url))
	if c.observer != nil {
		c.observer.ConnectionChanged(ctx, true)
	}
}

func (c *Channel) clearConn(ctx context.Context) {
	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
	c.connected.Store(false)
	if c.observer != nil {
		c.observer.ConnectionChanged(ctx, false)
	}
}

func (c *Channel) current() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// Emit sends an event with payload to the server.
func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	msg, err := newMessage(event, "", payload, c.clock.Now())
	if err != nil {
		return err
	}
	return c.write(ctx, msg)
}

// SendMessage publishes payload on a named channel. It returns false when
// the channel is disconnected or the write fails.
func (c *Channel) SendMessage(channel string, payload any) bool {
	msg, err := newMessage(EventMessage, channel, payload, c.clock.Now())
	if err != nil {
		c.logger.Warn("Realtime message not encoded", zap.String("channel", channel), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.write(ctx, msg) == nil
}

// SendUserActivity queues an activity report without blocking. Reports
// that cannot be queued or delivered are dropped.
func (c *Channel) SendUserActivity(activity UserActivity) {
	msg, err := newMessage(EventUserActivity, "", activity, c.clock.Now())
	if err != nil {
		c.logger.Warn("User activity not encoded", zap.Error(err))
		return
	}
	select {
	case c.activity <- msg:
	default:
		c.logger.Debug("User activity dropped, send buffer full", zap.String("action", activity.Action))
	}
}

func (c *Channel) write(ctx context.Context, msg Message) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Event, err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Event, err)
	}
	return nil
}
