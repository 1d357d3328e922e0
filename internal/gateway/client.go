// ABOUTME: Per-connection state and the websocket read/write pumps
// ABOUTME: Outbound events queue on a buffered channel drained by one writer

package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lodgepoint/support-gateway/internal/auth"
	"github.com/lodgepoint/support-gateway/internal/room"
)

const (
	// readTimeout is refreshed on every pong from the peer
	readTimeout = 60 * time.Second
	// pingInterval must be shorter than readTimeout
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second

	maxFrameSize = 64 * 1024
)

// client is one live websocket connection. It satisfies room.Conn so the
// multiplexer can deliver events to it; the write pump is the only
// goroutine that touches the websocket for writes.
type client struct {
	id       string
	identity *auth.Identity

	conn *websocket.Conn
	send chan room.Event

	closeOnce sync.Once
	done      chan struct{}

	logger *slog.Logger
}

func newClient(id string, identity *auth.Identity, conn *websocket.Conn, queueSize int, logger *slog.Logger) *client {
	return &client{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan room.Event, queueSize),
		done:     make(chan struct{}),
		logger:   logger.With("conn_id", id, "user_id", identity.UserID),
	}
}

// ID implements room.Conn.
func (c *client) ID() string { return c.id }

// Deliver implements room.Conn. Non-blocking: a full queue means the peer
// is not keeping up and the event is dropped.
func (c *client) Deliver(ev room.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		eventsDropped.Inc()
		return false
	}
}

// close releases the connection. Safe to call from any goroutine, repeatedly.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump drains the send queue onto the websocket and keeps the
// connection alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			frame := struct {
				Event string `json:"event"`
				Data  any    `json:"data"`
			}{Event: ev.Name, Data: ev.Data}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug("write failed, closing connection", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames and hands them to dispatch until the connection
// drops. Events from one connection are processed to completion in order.
func (c *client) readPump(dispatch func(*client, envelope)) {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("", "malformed frame")
			continue
		}

		dispatch(c, env)
	}
}

// sendEvent queues an event for this connection only.
func (c *client) sendEvent(name string, data any) {
	c.Deliver(room.Event{Name: name, Data: data})
}

// sendError queues a scoped error event naming the offending inbound event.
func (c *client) sendError(event, message string) {
	c.sendEvent(EventError, errorPayload{Message: message, Event: event})
}
