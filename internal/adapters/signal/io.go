package signal

import (
	"context"
	"encoding/json"

	"github.com/sourcegraph/jsonrpc2"
)

type handler struct {
	c *Channel
}

// Handle runs on the jsonrpc2 read loop, so it only queues.
func (h handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req == nil {
		return
	}
	if err := h.c.enqueue(inbound{conn: conn, req: req}); err != nil {
		h.c.logger.Error().Err(err).Str("method", req.Method).Msg("dropping server message")
		if !req.Notif {
			_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
				Code:    jsonrpc2.CodeInternalError,
				Message: err.Error(),
			})
		}
	}
}

func (c *Channel) enqueue(in inbound) error {
	select {
	case c.inbox <- in:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Channel) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("dispatch loop ctx done")
			return
		case in := <-c.inbox:
			c.dispatch(ctx, in)
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, in inbound) {
	var data json.RawMessage
	if in.req.Params != nil {
		data = *in.req.Params
	}

	if in.req.Notif {
		c.handlersMu.RLock()
		h, ok := c.notifications[in.req.Method]
		c.handlersMu.RUnlock()
		if !ok {
			c.logger.Warn().Str("method", in.req.Method).Msg("unknown notification")
			return
		}
		h(ctx, data)
		return
	}

	c.handlersMu.RLock()
	h, ok := c.requests[in.req.Method]
	c.handlersMu.RUnlock()
	if !ok {
		c.logger.Warn().Str("method", in.req.Method).Msg("unknown request")
		_ = in.conn.ReplyWithError(ctx, in.req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "unknown method " + in.req.Method,
		})
		return
	}

	result, err := h(ctx, data)
	if err != nil {
		c.logger.Error().Err(err).Str("method", in.req.Method).Msg("request handler failed")
		_ = in.conn.ReplyWithError(ctx, in.req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInternalError,
			Message: err.Error(),
		})
		return
	}
	if err := in.conn.Reply(ctx, in.req.ID, result); err != nil {
		c.logger.Error().Err(err).Str("method", in.req.Method).Msg("reply failed")
	}
}
