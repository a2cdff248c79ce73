package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"
	wsrpc "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
)

// Channel is a persistent JSON-RPC connection to the media server.
// Server pushes are dispatched in arrival order on a single goroutine.
type Channel struct {
	cfg    config.Signaling
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu      sync.RWMutex
	sess    *session
	closed  bool
	started bool

	handlersMu    sync.RWMutex
	notifications map[string]core.NotificationHandler
	requests      map[string]core.RequestHandler

	inbox  chan inbound
	events *core.Bus[core.ConnectionEvent]

	// NewBackOff builds the reconnect schedule. Replaced in tests.
	NewBackOff func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type session struct {
	ws           *websocket.Conn
	rpc          *jsonrpc2.Conn
	serverClosed atomic.Bool
}

type inbound struct {
	conn *jsonrpc2.Conn
	req  *jsonrpc2.Request
}

var _ core.Signaler = (*Channel)(nil)

func New(cfg config.Signaling) *Channel {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	c := &Channel{
		cfg:           cfg,
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:        log.With().Str("module", "signal").Str("peer_id", cfg.PeerID).Logger(),
		notifications: make(map[string]core.NotificationHandler),
		requests:      make(map[string]core.RequestHandler),
		inbox:         make(chan inbound, cfg.QueueSize),
		events:        core.NewBus[core.ConnectionEvent](),
		done:          make(chan struct{}),
	}
	c.NewBackOff = c.defaultBackOff
	return c
}

func (c *Channel) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Endpoint returns the websocket URL carrying the room and peer ids.
func (c *Channel) Endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("signal: bad url: %w", err)
	}
	q := u.Query()
	if c.cfg.RoomID != "" {
		q.Set("roomId", c.cfg.RoomID)
	}
	if c.cfg.PeerID != "" {
		q.Set("peerId", c.cfg.PeerID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the server and starts dispatching. The channel lives until
// Close, ctx cancellation, a server-initiated close or reconnect exhaustion.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx, cancel := c.ctx, c.cancel
	c.mu.Unlock()

	if err := c.dial(runCtx); err != nil {
		cancel()
		// a failed first dial leaves the channel connectable again
		c.mu.Lock()
		c.started = false
		c.ctx, c.cancel = nil, nil
		c.mu.Unlock()
		return err
	}
	go c.dispatchLoop(runCtx)
	return nil
}

func (c *Channel) dial(ctx context.Context) error {
	endpoint, err := c.Endpoint()
	if err != nil {
		return err
	}
	ws, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("signal: dial: %w", err)
	}

	s := &session{ws: ws}
	ws.SetCloseHandler(func(code int, text string) error {
		s.serverClosed.Store(true)
		c.logger.Info().Int("code", code).Str("reason", text).Msg("server closed connection")
		msg := websocket.FormatCloseMessage(code, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return nil
	})
	s.rpc = jsonrpc2.NewConn(ctx, wsrpc.NewObjectStream(ws), handler{c: c})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = s.rpc.Close()
		return ErrClosed
	}
	c.sess = s
	c.mu.Unlock()

	c.logger.Info().Str("url", endpoint).Msg("connected")
	go c.watch(s)
	return nil
}

// watch waits for the connection to drop and decides whether to reconnect.
func (c *Channel) watch(s *session) {
	<-s.rpc.DisconnectNotify()

	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	closing := c.closed
	c.mu.Unlock()
	if closing {
		return
	}

	if s.serverClosed.Load() {
		c.logger.Warn().Msg("server-initiated disconnect, not reconnecting")
		c.events.Emit(core.ConnectionEvent{Kind: core.ConnDisconnected, Reason: "io server disconnect", ServerInitiated: true})
		c.Close()
		return
	}

	c.logger.Warn().Msg("connection lost")
	c.events.Emit(core.ConnectionEvent{Kind: core.ConnDisconnected, Reason: "transport close"})
	go c.reconnect()
}

func (c *Channel) reconnect() {
	b := c.NewBackOff()
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := c.dial(c.ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}
		c.logger.Info().Int("attempt", attempt).Msg("reconnected")
		c.events.Emit(core.ConnectionEvent{Kind: core.ConnReconnected, Attempt: attempt})
		return
	}
	c.logger.Error().Int("attempts", c.cfg.ReconnectAttempts).Msg("reconnect failed")
	c.events.Emit(core.ConnectionEvent{Kind: core.ConnReconnectFailed})
	c.Close()
}

// Request sends method and waits for the reply. Each attempt gets the
// configured timeout; timed-out attempts are retried with the same payload.
func (c *Channel) Request(ctx context.Context, method string, data any) (json.RawMessage, error) {
	attempts := c.cfg.RequestRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		rpc, err := c.conn()
		if err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		var raw json.RawMessage
		err = rpc.Call(callCtx, method, data, &raw)
		cancel()
		if err == nil {
			return raw, nil
		}

		var rpcErr *jsonrpc2.Error
		switch {
		case errors.As(err, &rpcErr):
			return nil, fromRPCError(method, rpcErr)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			c.logger.Warn().Str("method", method).Int("attempt", attempt).Msg("request timeout")
			continue
		default:
			return nil, fmt.Errorf("signal: %s: %w", method, err)
		}
	}
	return nil, &RequestTimeoutError{Method: method, Attempts: attempts}
}

func (c *Channel) conn() (*jsonrpc2.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess.rpc, nil
}

func (c *Channel) OnNotification(method string, h core.NotificationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.notifications[method] = h
}

func (c *Channel) OnRequest(method string, h core.RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.requests[method] = h
}

func (c *Channel) OnConnectionEvent(fn func(core.ConnectionEvent)) func() {
	return c.events.Subscribe(fn)
}

// Done is closed once the channel reaches its terminal state.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down without reconnecting.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	s := c.sess
	c.sess = nil
	cancel := c.cancel
	c.mu.Unlock()

	if s != nil {
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = s.rpc.Close()
	}
	if cancel != nil {
		cancel()
	}
	close(c.done)
	c.logger.Info().Msg("closed")
}
