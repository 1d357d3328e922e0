// ABOUTME: Websocket upgrade endpoint: authenticate first, then upgrade
// ABOUTME: Failed auth is an HTTP 401; no partial connection ever exists

package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lodgepoint/support-gateway/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token auth is the access control; origin is not
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades an authenticated request to a websocket session and runs
// its pumps. auth.Middleware has already rejected anonymous callers, so the
// identity is always present here.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), identity, conn, g.sendQueueSize, g.logger)
	g.trackClient(c)
	g.rooms.Register(c)
	connectionsActive.Inc()

	g.logger.Info("client connected",
		"conn_id", c.id,
		"user_id", identity.UserID,
		"role", identity.Role,
	)

	go c.writePump()
	c.readPump(g.dispatch)

	// Read pump returned: the connection is gone
	g.handleDisconnect(c)
	g.untrackClient(c)
	connectionsActive.Dec()

	g.logger.Info("client disconnected", "conn_id", c.id, "user_id", identity.UserID)
}

func (g *Gateway) trackClient(c *client) {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	g.clients[c.id] = c
}

func (g *Gateway) untrackClient(c *client) {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	delete(g.clients, c.id)
}

// closeAllClients force-closes every live websocket during shutdown.
func (g *Gateway) closeAllClients() {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	for _, c := range g.clients {
		// Best-effort close frame so well-behaved clients stop reconnecting
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.close()
	}
}
