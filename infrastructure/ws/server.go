package ws

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"qr-relay/contract"
	"qr-relay/domain"
)

// Server upgrades HTTP requests to WebSocket connections and hands them to
// the relay engine as opaque handles. Authentication happens before the
// upgrade, in the middleware wrapping Handler; by the time a socket exists
// the actor is already identified.
type Server struct {
	log        *slog.Logger
	engine     contract.IEngine
	bufferSize int
	upgrader   websocket.Upgrader
}

func NewServer(log *slog.Logger, engine contract.IEngine, bufferSize int) *Server {
	return &Server{
		log:        log,
		engine:     engine,
		bufferSize: bufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin is enforced by the reverse proxy in front.
				return true
			},
		},
	}
}

// Handler accepts one WebSocket connection and runs its pumps. The handle
// is a fresh UUID; the engine never sees the socket itself.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := domain.ConnID(uuid.NewString())
	conn := newConn(id, sock, s.bufferSize, s.log)
	s.engine.Connect(id, conn)
	s.log.Debug("connection accepted", "conn_id", id, "remote", r.RemoteAddr)

	go conn.writePump()
	go conn.readPump(s.engine.HandleMessage, s.engine.Disconnect)
}
