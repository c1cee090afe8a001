package ws

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"qr-relay/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Conn wraps one WebSocket with a buffered outbound channel, so delivery to
// a slow consumer degrades to dropped messages instead of stalling whoever
// is broadcasting.
type Conn struct {
	id   domain.ConnID
	sock *websocket.Conn
	send chan any
	done chan struct{}
	log  *slog.Logger
}

func newConn(id domain.ConnID, sock *websocket.Conn, bufferSize int, log *slog.Logger) *Conn {
	return &Conn{
		id:   id,
		sock: sock,
		send: make(chan any, bufferSize),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send queues one outbound message without blocking. A full buffer means
// the peer is not keeping up; the message is dropped and reported to the
// caller, who treats it as a skip, not a failure.
func (c *Conn) Send(v any) error {
	select {
	case c.send <- v:
		return nil
	default:
		return fmt.Errorf("send buffer full for connection %s", c.id)
	}
}

// readPump feeds inbound messages to the handler until the socket dies,
// then reports the disconnect exactly once.
func (c *Conn) readPump(handler func(id domain.ConnID, raw []byte), disconnect func(id domain.ConnID)) {
	defer func() {
		// The engine unregisters the sink before done is closed, so a
		// broadcast racing this shutdown lands in the buffer and is
		// discarded with the connection, never sent on a closed channel.
		disconnect(c.id)
		close(c.done)
		_ = c.sock.Close()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", "conn_id", c.id, "error", err)
			}
			return
		}
		handler(c.id, raw)
	}
}

// writePump serializes all writes to the socket and keeps the underlying
// connection alive with protocol-level pings, independent of the
// application-level heartbeat.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case v := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(v); err != nil {
				c.log.Debug("write error", "conn_id", c.id, "error", err)
				return
			}
		case <-c.done:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
