// Package coretest provides in-memory doubles of the core interfaces.
package coretest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/Meet/internal/core"
)

type Call struct {
	Method string
	Data   json.RawMessage
}

// Signaler records requests and answers them from registered responders.
// Methods without a responder succeed with an empty object.
type Signaler struct {
	mu            sync.Mutex
	calls         []Call
	responders    map[string]func(data json.RawMessage) (any, error)
	notifications map[string]core.NotificationHandler
	requests      map[string]core.RequestHandler
	conn          *core.Bus[core.ConnectionEvent]
}

var _ core.Signaler = (*Signaler)(nil)

func NewSignaler() *Signaler {
	return &Signaler{
		responders:    make(map[string]func(json.RawMessage) (any, error)),
		notifications: make(map[string]core.NotificationHandler),
		requests:      make(map[string]core.RequestHandler),
		conn:          core.NewBus[core.ConnectionEvent](),
	}
}

func (s *Signaler) Respond(method string, fn func(data json.RawMessage) (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders[method] = fn
}

func (s *Signaler) RespondWith(method string, v any) {
	s.Respond(method, func(json.RawMessage) (any, error) { return v, nil })
}

func (s *Signaler) Fail(method string, err error) {
	s.Respond(method, func(json.RawMessage) (any, error) { return nil, err })
}

func (s *Signaler) Request(ctx context.Context, method string, data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Data: raw})
	fn := s.responders[method]
	s.mu.Unlock()

	if fn == nil {
		return json.RawMessage(`{}`), nil
	}
	v, err := fn(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Calls returns the payloads sent for method, in order.
func (s *Signaler) Calls(method string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []json.RawMessage
	for _, c := range s.calls {
		if c.Method == method {
			out = append(out, c.Data)
		}
	}
	return out
}

// Methods returns every requested method name, in order.
func (s *Signaler) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Method
	}
	return out
}

func (s *Signaler) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Signaler) OnNotification(method string, h core.NotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[method] = h
}

func (s *Signaler) OnRequest(method string, h core.RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[method] = h
}

func (s *Signaler) OnConnectionEvent(fn func(core.ConnectionEvent)) func() {
	return s.conn.Subscribe(fn)
}

// Notify delivers a server push. It reports false when no handler is registered.
func (s *Signaler) Notify(ctx context.Context, method string, payload any) bool {
	s.mu.Lock()
	h, ok := s.notifications[method]
	s.mu.Unlock()
	if !ok {
		return false
	}
	raw, _ := json.Marshal(payload)
	h(ctx, raw)
	return true
}

// ServerRequest delivers a server-initiated request and returns the reply.
func (s *Signaler) ServerRequest(ctx context.Context, method string, payload any) (any, error) {
	s.mu.Lock()
	h, ok := s.requests[method]
	s.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound
	}
	raw, _ := json.Marshal(payload)
	return h(ctx, raw)
}

func (s *Signaler) EmitConnection(e core.ConnectionEvent) {
	s.conn.Emit(e)
}
