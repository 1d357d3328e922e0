// Package room provides in-memory fan-out of events to websocket connections.
//
// A room is keyed by chat ID and is purely a delivery view: it owns no chat
// state, so rooms are created on first join and discarded when empty. The
// Multiplexer also keeps a global connection set for gateway-wide broadcasts
// such as read receipts and agent status changes.
//
// Delivery is non-blocking. A connection that cannot keep up has events
// dropped rather than stalling the broadcast loop.
package room
