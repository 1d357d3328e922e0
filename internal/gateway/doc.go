// Package gateway orchestrates the support-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the support-gateway
// server. It owns the HTTP server (with an optional Tailscale tsnet
// listener), the websocket endpoint, the REST API, and wires the data
// store, presence manager, chat service, and room multiplexer together.
//
// # Websocket Protocol
//
// Clients connect to /ws with a JWT (Authorization header or token query
// parameter) and exchange JSON envelopes:
//
//	{"event": "send-message", "data": {"chatId": "...", "message": "hi"}}
//
// Inbound events are dispatched in handlers.go: create-chat, join-chat,
// send-message, mark-read, typing, stop-typing, agent-status, leave-chat.
// Outbound events include chat-created, message-received, message-delivered,
// message-read, user-typing, agent-status-updated, user-joined, user-left,
// chat-closed, and error. Messages are persisted before any broadcast, so a
// delivered event always refers to a durable row.
//
// # Connection Lifecycle
//
// Each websocket connection gets a client with a buffered outbound queue
// drained by a write pump (client.go). Delivery to a slow client never
// blocks a broadcast; when the queue is full the event is dropped and
// counted. Read deadlines are refreshed by pong frames and the write pump
// pings ahead of the deadline. On disconnect the client leaves all rooms,
// and if it belonged to an agent the agent is marked offline and the status
// change is broadcast.
//
// # HTTP API
//
// The gateway exposes REST endpoints in api.go:
//
//   - GET  /api/chats - List the caller's chats with unread counts
//   - POST /api/chats - Create a chat
//   - GET  /api/chats/{id}/messages - Paged message history
//   - POST /api/chats/{id}/close - Close a chat
//   - GET  /api/unread - Total unread count for the caller
//   - GET  /api/agents - Agent presence roster (agent role required)
//   - GET  /health - Liveness check
//   - GET  /health/ready - Readiness check
//
// # Listeners
//
// By default the gateway listens on a plain TCP address. With
// tailscale.enabled it joins a tailnet via tsnet instead, optionally with
// HTTPS (Tailscale-provisioned certs) or a public Funnel listener.
package gateway
