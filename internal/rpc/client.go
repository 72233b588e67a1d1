// Package rpc carries protocol.Message envelopes over a gorilla/websocket
// connection for the Remote InferenceClient variant and for
// driving a GameWorker/GamePool across a process boundary. Grounded on
// sdk/ws_client.go's WSClient (Dial, ReadJSON/WriteJSON message pump, a
// reader goroutine dispatching by message type) generalized from type-keyed
// event handlers to rid-keyed request/response correlation, since every
// call here expects exactly one (or a stream of) typed reply.
package rpc

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/protocol"
)

// Client is one websocket connection to an rpc.Server, correlating replies
// to requests by rid.
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger
	gen    *protocol.IDGenerator

	mu       sync.Mutex
	pending  map[uint64]chan protocol.Message
	closed   bool
	closeErr error
}

// Dial connects to an rpc.Server at url and starts its reader pump.
func Dial(ctx context.Context, rawURL string, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", u.String(), err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger.With().Str("component", "rpc_client").Str("url", u.String()).Logger(),
		gen:     &protocol.IDGenerator{},
		pending: make(map[uint64]chan protocol.Message),
	}
	go c.readPump()
	return c, nil
}

func (c *Client) readPump() {
	defer c.shutdown(fmt.Errorf("rpc: connection closed"))
	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.shutdown(fmt.Errorf("rpc: read: %w", err))
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.RID]
		if ok && msg.Done {
			delete(c.pending, msg.RID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Warn().Uint64("rid", msg.RID).Msg("reply for unknown or already-closed request")
			continue
		}
		ch <- msg
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// Call sends one request and returns its terminal reply. onProgress, if
// non-nil, is invoked for every non-terminal reply in arrival order before
// the terminal one resolves the call.
func (c *Client) Call(ctx context.Context, typ protocol.Type, data any, onProgress func(protocol.Message)) (protocol.Message, error) {
	req, err := protocol.NewRequest(c.gen, typ, data)
	if err != nil {
		return protocol.Message{}, err
	}

	ch := make(chan protocol.Message, 4)
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return protocol.Message{}, errs.Wrap(errs.ProtocolError, "rpc.call", err)
	}
	c.pending[req.RID] = ch
	c.mu.Unlock()

	if err := c.conn.WriteJSON(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.RID)
		c.mu.Unlock()
		return protocol.Message{}, errs.Wrap(errs.ProtocolError, "rpc.call", err)
	}

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return protocol.Message{}, errs.Wrap(errs.ProtocolError, "rpc.call", c.closeErr)
			}
			if msg.Err != nil {
				return msg, errs.New(errs.Kind(msg.Err.Kind), msg.Err.Op, fmt.Errorf("%s", msg.Err.Message))
			}
			if !msg.Done {
				if onProgress != nil {
					onProgress(msg)
				}
				continue
			}
			return msg, nil
		case <-ctx.Done():
			c.mu.Lock()
			delete(c.pending, req.RID)
			c.mu.Unlock()
			return protocol.Message{}, ctx.Err()
		}
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.shutdown(fmt.Errorf("rpc: client closed"))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// PingInterval is a keepalive ping interval for Client connections. Client
// itself sends no pings.
const PingInterval = 30 * time.Second
