// ABOUTME: Tests for room membership and event fan-out
// ABOUTME: Covers isolation between rooms, sender exclusion, and slow consumers

package room

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn buffers delivered events for inspection.
type fakeConn struct {
	id     string
	events chan Event
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, events: make(chan Event, 16)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *fakeConn) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	b := newFakeConn("conn-b")
	m.Join("chat-1", a)
	m.Join("chat-1", b)

	m.Broadcast("chat-1", Event{Name: "new-message", Data: "hello"}, "")

	require.Len(t, a.drain(), 1)
	require.Len(t, b.drain(), 1)
}

func TestBroadcastIsolatedBetweenRooms(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	b := newFakeConn("conn-b")
	m.Join("chat-1", a)
	m.Join("chat-2", b)

	m.Broadcast("chat-1", Event{Name: "new-message"}, "")

	assert.Len(t, a.drain(), 1)
	assert.Empty(t, b.drain())
}

func TestBroadcastExcludesSender(t *testing.T) {
	m := NewMultiplexer(nil)

	sender := newFakeConn("conn-sender")
	other := newFakeConn("conn-other")
	m.Join("chat-1", sender)
	m.Join("chat-1", other)

	m.Broadcast("chat-1", Event{Name: "typing"}, sender.ID())

	assert.Empty(t, sender.drain())
	assert.Len(t, other.drain(), 1)
}

func TestBroadcastEmptyRoomIsNoop(t *testing.T) {
	m := NewMultiplexer(nil)
	m.Broadcast("chat-none", Event{Name: "new-message"}, "")
}

func TestBroadcastPreservesOrder(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	m.Join("chat-1", a)

	for i := 0; i < 5; i++ {
		m.Broadcast("chat-1", Event{Name: "new-message", Data: i}, "")
	}

	events := a.drain()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, i, ev.Data)
	}
}

func TestJoinIdempotent(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	m.Join("chat-1", a)
	m.Join("chat-1", a)

	assert.Equal(t, 1, m.MemberCount("chat-1"))

	m.Broadcast("chat-1", Event{Name: "new-message"}, "")
	assert.Len(t, a.drain(), 1)
}

func TestLeaveRemovesMember(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	b := newFakeConn("conn-b")
	m.Join("chat-1", a)
	m.Join("chat-1", b)

	m.Leave("chat-1", a.ID())
	m.Broadcast("chat-1", Event{Name: "new-message"}, "")

	assert.Empty(t, a.drain())
	assert.Len(t, b.drain(), 1)
}

func TestLeaveUnknownRoomIsNoop(t *testing.T) {
	m := NewMultiplexer(nil)
	m.Leave("chat-none", "conn-a")
}

func TestEmptyRoomIsDiscarded(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	m.Join("chat-1", a)
	assert.Equal(t, 1, m.RoomCount())

	m.Leave("chat-1", a.ID())
	assert.Equal(t, 0, m.RoomCount())
	assert.Equal(t, 0, m.MemberCount("chat-1"))
}

func TestRejoinAfterEmptyWorks(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	m.Join("chat-1", a)
	m.Leave("chat-1", a.ID())
	m.Join("chat-1", a)

	m.Broadcast("chat-1", Event{Name: "new-message"}, "")
	assert.Len(t, a.drain(), 1)
}

func TestBroadcastAll(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	b := newFakeConn("conn-b")
	m.Register(a)
	m.Register(b)
	// Room membership is irrelevant for global broadcasts
	m.Join("chat-1", a)

	m.BroadcastAll(Event{Name: "message-read"})

	assert.Len(t, a.drain(), 1)
	assert.Len(t, b.drain(), 1)
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	m := NewMultiplexer(nil)

	a := newFakeConn("conn-a")
	b := newFakeConn("conn-b")
	m.Register(a)
	m.Register(b)
	m.Join("chat-1", a)
	m.Join("chat-2", a)
	m.Join("chat-1", b)

	m.Unregister(a.ID())

	assert.Equal(t, 1, m.MemberCount("chat-1"))
	assert.Equal(t, 0, m.MemberCount("chat-2"))
	assert.Equal(t, 1, m.ConnCount())

	m.BroadcastAll(Event{Name: "agent-status-changed"})
	assert.Empty(t, a.drain())
	assert.Len(t, b.drain(), 1)
}

func TestSlowConnectionDropsNotBlocks(t *testing.T) {
	m := NewMultiplexer(nil)

	slow := &fakeConn{id: "conn-slow", events: make(chan Event, 1)}
	fast := newFakeConn("conn-fast")
	m.Join("chat-1", slow)
	m.Join("chat-1", fast)

	for i := 0; i < 4; i++ {
		m.Broadcast("chat-1", Event{Name: fmt.Sprintf("ev-%d", i)}, "")
	}

	// Slow connection kept only what fit; fast one got everything
	assert.Len(t, slow.drain(), 1)
	assert.Len(t, fast.drain(), 4)
}
