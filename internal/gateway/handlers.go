// ABOUTME: Websocket event dispatch: one handler per client-to-server event
// ABOUTME: Persists before broadcasting so receivers only see committed state

package gateway

import (
	"context"
	"errors"

	"github.com/lodgepoint/support-gateway/internal/auth"
	"github.com/lodgepoint/support-gateway/internal/chat"
	"github.com/lodgepoint/support-gateway/internal/room"
	"github.com/lodgepoint/support-gateway/internal/store"
)

// dispatch routes one inbound frame to its handler. Unknown event names get
// a scoped error so clients notice typos instead of silence.
func (g *Gateway) dispatch(c *client, env envelope) {
	eventsReceived.WithLabelValues(env.Event).Inc()
	ctx := context.Background()

	switch env.Event {
	case EventCreateChat:
		g.handleCreateChat(ctx, c, env)
	case EventJoinChat:
		g.handleJoinChat(ctx, c, env)
	case EventSendMessage:
		g.handleSendMessage(ctx, c, env)
	case EventMarkRead:
		g.handleMarkRead(ctx, c, env)
	case EventTyping:
		g.handleTyping(c, env, true)
	case EventStopTyping:
		g.handleTyping(c, env, false)
	case EventAgentStatus:
		g.handleAgentStatus(ctx, c, env)
	case EventLeaveChat:
		g.handleLeaveChat(c, env)
	default:
		c.sendError(env.Event, "unknown event")
	}
}

func (g *Gateway) handleCreateChat(ctx context.Context, c *client, env envelope) {
	var p createChatPayload
	if err := decodePayload(env, &p); err != nil {
		c.sendError(env.Event, "malformed payload")
		return
	}

	created, err := g.chat.Create(ctx, c.identity.UserID)
	if err != nil {
		c.sendError(env.Event, "could not create chat")
		return
	}

	// The creator lands in the new room immediately
	g.rooms.Join(roomID(created.ID), c)
	roomsActive.Set(float64(g.rooms.RoomCount()))
	c.sendEvent(EventChatCreated, toChatJSON(created))

	if p.Message != "" {
		g.persistAndBroadcast(ctx, c, env.Event, chat.SendParams{
			ChatID:     created.ID,
			SenderID:   c.identity.UserID,
			SenderType: senderTypeFor(c.identity),
			Text:       p.Message,
		})
	}
}

func (g *Gateway) handleJoinChat(ctx context.Context, c *client, env envelope) {
	var p joinChatPayload
	if err := decodePayload(env, &p); err != nil || p.ChatID == "" {
		c.sendError(env.Event, "chatId is required")
		return
	}

	ch, err := g.chat.Get(ctx, p.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		c.sendError(env.Event, "chat not found")
		return
	}
	if err != nil {
		c.sendError(env.Event, "could not load chat")
		return
	}

	// Users only enter their own chats; support-side roles enter any
	if !c.identity.IsAgent() && ch.UserID != c.identity.UserID {
		c.sendError(env.Event, "not a participant of this chat")
		return
	}

	// History is loaded before the join so a failed join leaves no trace:
	// an error frame means the sender was never announced to the room.
	history, err := g.chat.History(ctx, ch.ID, 0, 0)
	if err != nil {
		c.sendError(env.Event, "could not load history")
		return
	}

	g.rooms.Join(roomID(ch.ID), c)
	roomsActive.Set(float64(g.rooms.RoomCount()))

	// The whole room, joiner included, sees the arrival
	g.rooms.Broadcast(roomID(ch.ID), room.Event{
		Name: EventUserJoined,
		Data: userJoinedPayload{
			ChatID:   ch.ID,
			UserID:   c.identity.UserID,
			UserName: c.identity.Name,
		},
	}, "")

	c.sendEvent(EventJoinChatSuccess, joinChatSuccessPayload{
		ChatID:   ch.ID,
		Messages: toMessagesJSON(history),
	})
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *client, env envelope) {
	var p sendMessagePayload
	if err := decodePayload(env, &p); err != nil {
		c.sendError(env.Event, "malformed payload")
		return
	}
	if p.ChatID == "" {
		c.sendError(env.Event, "chatId is required")
		return
	}

	g.persistAndBroadcast(ctx, c, env.Event, chat.SendParams{
		ChatID:     p.ChatID,
		SenderID:   c.identity.UserID,
		SenderType: senderTypeFor(c.identity),
		Text:       p.Message,
		FileURL:    p.FileURL,
		FileType:   p.FileType,
	})
}

// persistAndBroadcast stores one message, then fans it out to the room and
// acks the sender. Nothing is broadcast when persistence fails.
func (g *Gateway) persistAndBroadcast(ctx context.Context, c *client, event string, params chat.SendParams) {
	msg, err := g.chat.Send(ctx, params)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.sendError(event, "message is empty")
		return
	case errors.Is(err, store.ErrChatClosed):
		c.sendError(event, "chat is closed")
		return
	case errors.Is(err, store.ErrNotFound):
		c.sendError(event, "chat not found")
		return
	case err != nil:
		g.logger.Error("failed to persist message", "chat_id", params.ChatID, "error", err)
		c.sendError(event, "could not send message")
		return
	}

	g.rooms.Broadcast(roomID(msg.ChatID), room.Event{
		Name: EventMessageReceived,
		Data: toMessageJSON(msg),
	}, "")
	c.sendEvent(EventMessageDelivered, messageDeliveredPayload{
		MessageID: msg.ID,
		Status:    "delivered",
	})
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *client, env envelope) {
	var p markReadPayload
	if err := decodePayload(env, &p); err != nil || p.MessageID == "" {
		c.sendError(env.Event, "messageId is required")
		return
	}

	msg, err := g.chat.MarkRead(ctx, p.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		c.sendError(env.Event, "message not found")
		return
	}
	if err != nil {
		c.sendError(env.Event, "could not mark message read")
		return
	}

	// Read receipts go to every connection, not just the room, so other
	// surfaces (chat lists, badges) update without being joined.
	g.rooms.BroadcastAll(room.Event{
		Name: EventMessageRead,
		Data: messageReadPayload{
			MessageID: msg.ID,
			ReadBy:    c.identity.UserID,
			ReadAt:    *msg.ReadAt,
		},
	})
}

// handleTyping covers both typing and stop-typing. A missing chatId is a
// silent no-op: typing signals are best-effort and not worth an error frame.
func (g *Gateway) handleTyping(c *client, env envelope, isTyping bool) {
	var p typingPayload
	if err := decodePayload(env, &p); err != nil || p.ChatID == "" {
		return
	}

	g.rooms.Broadcast(roomID(p.ChatID), room.Event{
		Name: EventUserTyping,
		Data: userTypingPayload{
			ChatID:   p.ChatID,
			UserID:   c.identity.UserID,
			UserName: c.identity.Name,
			IsTyping: isTyping,
		},
	}, c.id)
}

func (g *Gateway) handleAgentStatus(ctx context.Context, c *client, env envelope) {
	if !c.identity.IsAgent() {
		c.sendError(env.Event, "agent role required")
		return
	}

	var p agentStatusPayload
	if err := decodePayload(env, &p); err != nil {
		c.sendError(env.Event, "malformed payload")
		return
	}

	presence, err := g.presence.SetStatus(ctx, c.identity.UserID, p.Status)
	if err != nil {
		c.sendError(env.Event, "status must be one of online, away, busy, offline")
		return
	}

	g.rooms.BroadcastAll(room.Event{
		Name: EventAgentStatusUpdated,
		Data: agentStatusUpdatedPayload{
			AgentID: presence.AgentID,
			Status:  string(presence.Status),
		},
	})
}

func (g *Gateway) handleLeaveChat(c *client, env envelope) {
	var p leaveChatPayload
	if err := decodePayload(env, &p); err != nil || p.ChatID == "" {
		c.sendError(env.Event, "chatId is required")
		return
	}

	g.rooms.Leave(roomID(p.ChatID), c.id)
	roomsActive.Set(float64(g.rooms.RoomCount()))

	// Only the remaining members hear about the departure
	g.rooms.Broadcast(roomID(p.ChatID), room.Event{
		Name: EventUserLeft,
		Data: userLeftPayload{
			ChatID:   p.ChatID,
			UserID:   c.identity.UserID,
			UserName: c.identity.Name,
		},
	}, "")
}

// handleDisconnect runs once per connection after its read pump exits.
// Agent connections flip their presence to offline for everyone to see.
func (g *Gateway) handleDisconnect(c *client) {
	g.rooms.Unregister(c.id)
	roomsActive.Set(float64(g.rooms.RoomCount()))

	if c.identity.Role != auth.RoleAgent {
		return
	}

	presence, err := g.presence.HandleDisconnect(context.Background(), c.identity.UserID)
	if err != nil {
		g.logger.Error("failed to mark agent offline", "agent_id", c.identity.UserID, "error", err)
		return
	}

	g.rooms.BroadcastAll(room.Event{
		Name: EventAgentStatusUpdated,
		Data: agentStatusUpdatedPayload{
			AgentID: presence.AgentID,
			Status:  string(presence.Status),
		},
	})
}

// roomID maps a chat to its room key.
func roomID(chatID string) string {
	return "chat:" + chatID
}

// senderTypeFor derives message attribution from the connection's role.
// Anything support-side counts as agent.
func senderTypeFor(id *auth.Identity) store.SenderType {
	if id.Role == auth.RoleUser {
		return store.SenderTypeUser
	}
	return store.SenderTypeAgent
}
