package core

import (
	"context"
	"encoding/json"
	"fmt"
)

// NotificationHandler consumes a server push. It never replies.
type NotificationHandler func(ctx context.Context, data json.RawMessage)

// RequestHandler answers a server-initiated request; a non-nil error rejects it.
type RequestHandler func(ctx context.Context, data json.RawMessage) (any, error)

type ConnectionEventKind int

const (
	ConnDisconnected ConnectionEventKind = iota
	ConnReconnected
	ConnReconnectFailed
)

// ConnectionEvent reports signaling connection lifecycle changes.
type ConnectionEvent struct {
	Kind            ConnectionEventKind
	Reason          string
	ServerInitiated bool
	Attempt         int
}

func (e ConnectionEvent) EventName() string {
	switch e.Kind {
	case ConnReconnected:
		return "reconnect"
	case ConnReconnectFailed:
		return "reconnect_failed"
	default:
		return "disconnect"
	}
}

//go:generate mockgen -source=signal_iface.go -destination=mocks/mock_signaler.go -package=mocks

// Signaler is the request/notification contract to the media server.
type Signaler interface {
	Request(ctx context.Context, method string, data any) (json.RawMessage, error)
	OnNotification(method string, h NotificationHandler)
	OnRequest(method string, h RequestHandler)
	OnConnectionEvent(fn func(ConnectionEvent)) (unsubscribe func())
}

// RequestInto issues a request and decodes the response into T.
func RequestInto[T any](ctx context.Context, s Signaler, method string, data any) (T, error) {
	var out T
	raw, err := s.Request(ctx, method, data)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", method, err)
	}
	return out, nil
}
