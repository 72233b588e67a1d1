package rpc

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lox/alphatrain/internal/protocol"
)

// Responder lets a Handler send zero or more progress replies before its
// final reply (spec: Trainer's on_progress, or a streaming predict).
type Responder interface {
	Send(msg protocol.Message) error
}

// Handler processes one request and returns its terminal reply. It may use
// r to emit non-terminal progress replies first.
type Handler func(req protocol.Message, r Responder) protocol.Message

// Server upgrades HTTP connections to websockets and dispatches each
// request message to a Handler, writing back whatever replies it produces.
// Grounded on internal/server/server.go's Upgrader configuration and
// handleWebSocket's upgrade-then-read-loop shape, generalized from the
// bot-connect handshake to a bare request/reply loop.
type Server struct {
	logger   zerolog.Logger
	handler  Handler
	upgrader websocket.Upgrader
}

// NewServer constructs a Server that dispatches every request to handler.
func NewServer(handler Handler, logger zerolog.Logger) *Server {
	return &Server{
		logger:  logger.With().Str("component", "rpc_server").Logger(),
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.serveConn(conn)
}

func (s *Server) serveConn(conn *websocket.Conn) {
	defer conn.Close()
	responder := &connResponder{conn: conn}

	for {
		var req protocol.Message
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Msg("rpc connection error")
			}
			return
		}

		go func(req protocol.Message) {
			reply := s.handler(req, responder)
			if err := responder.Send(reply); err != nil {
				s.logger.Error().Err(err).Msg("failed to write reply")
			}
		}(req)
	}
}

// connResponder serializes writes to one connection: gorilla/websocket
// connections support one concurrent writer only.
type connResponder struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (r *connResponder) Send(msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.WriteJSON(msg)
}
