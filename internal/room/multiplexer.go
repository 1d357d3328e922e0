// ABOUTME: In-memory room registry that fans events out to websocket connections
// ABOUTME: One connection can sit in many rooms; membership is a view, not ownership

package room

import (
	"log/slog"
	"sync"
)

// Event is a named payload delivered to room members. Data must be
// JSON-serializable; it is encoded once per connection at write time.
type Event struct {
	Name string
	Data any
}

// Conn is the multiplexer's view of a connection. Deliver reports false when
// the event was dropped because the connection could not accept it.
type Conn interface {
	ID() string
	Deliver(ev Event) bool
}

// Multiplexer tracks which connections are in which rooms and fans events
// out to them. Rooms are plain string keys (chat IDs); they spring into
// existence on first Join and vanish when the last member leaves. A room
// holds no state of its own, so a member list going empty loses nothing.
type Multiplexer struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // roomID -> connID -> conn
	conns map[string]Conn            // all registered connections
	// membership index for O(rooms-of-conn) cleanup on disconnect
	joined map[string]map[string]struct{} // connID -> set of roomIDs

	logger *slog.Logger
}

// NewMultiplexer creates a multiplexer. Pass nil logger for default.
func NewMultiplexer(logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		rooms:  make(map[string]map[string]Conn),
		conns:  make(map[string]Conn),
		joined: make(map[string]map[string]struct{}),
		logger: logger.With("component", "room"),
	}
}

// Register adds a connection to the global set so it receives BroadcastAll
// events. Connections are registered once, at websocket accept time.
func (m *Multiplexer) Register(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[conn.ID()] = conn
	m.logger.Debug("connection registered", "conn_id", conn.ID())
}

// Unregister removes a connection from the global set and from every room it
// joined. Safe to call for connections that were never registered.
func (m *Multiplexer) Unregister(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conns, connID)
	for roomID := range m.joined[connID] {
		m.leaveLocked(roomID, connID)
	}
	delete(m.joined, connID)

	m.logger.Debug("connection unregistered", "conn_id", connID)
}

// Join adds a connection to a room, creating the room if needed.
// Joining a room the connection is already in is a no-op.
func (m *Multiplexer) Join(roomID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		m.rooms[roomID] = make(map[string]Conn)
	}
	m.rooms[roomID][conn.ID()] = conn

	if _, ok := m.joined[conn.ID()]; !ok {
		m.joined[conn.ID()] = make(map[string]struct{})
	}
	m.joined[conn.ID()][roomID] = struct{}{}

	m.logger.Debug("joined room", "room_id", roomID, "conn_id", conn.ID())
}

// Leave removes a connection from a room. Leaving a room the connection is
// not in is a no-op.
func (m *Multiplexer) Leave(roomID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaveLocked(roomID, connID)
	if set, ok := m.joined[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(m.joined, connID)
		}
	}
}

func (m *Multiplexer) leaveLocked(roomID, connID string) {
	members, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(m.rooms, roomID)
	}
}

// Broadcast sends an event to every member of a room. If exclude is
// non-empty, that connection is skipped (used so a sender does not receive
// its own typing indicator). Delivery is non-blocking; drops are logged.
func (m *Multiplexer) Broadcast(roomID string, ev Event, exclude string) {
	m.mu.RLock()
	members, ok := m.rooms[roomID]
	if !ok || len(members) == 0 {
		m.mu.RUnlock()
		return
	}

	// Copy members under read lock to avoid holding it during delivery
	targets := make([]Conn, 0, len(members))
	for id, conn := range members {
		if exclude != "" && id == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		if !conn.Deliver(ev) {
			m.logger.Debug("dropped event for slow connection",
				"room_id", roomID,
				"conn_id", conn.ID(),
				"event", ev.Name)
		}
	}
}

// BroadcastAll sends an event to every registered connection regardless of
// room membership.
func (m *Multiplexer) BroadcastAll(ev Event) {
	m.mu.RLock()
	targets := make([]Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		if !conn.Deliver(ev) {
			m.logger.Debug("dropped event for slow connection",
				"conn_id", conn.ID(),
				"event", ev.Name)
		}
	}
}

// MemberCount returns the number of connections currently in a room.
func (m *Multiplexer) MemberCount(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomID])
}

// RoomCount returns the number of rooms with at least one member.
func (m *Multiplexer) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// ConnCount returns the number of registered connections.
func (m *Multiplexer) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
