// ABOUTME: Tests for websocket event dispatch using in-process clients
// ABOUTME: Covers room scoping, validation errors, and presence broadcasts

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgepoint/support-gateway/internal/auth"
	"github.com/lodgepoint/support-gateway/internal/chat"
	"github.com/lodgepoint/support-gateway/internal/presence"
	"github.com/lodgepoint/support-gateway/internal/room"
	"github.com/lodgepoint/support-gateway/internal/store"
)

func setupGateway(t *testing.T) *Gateway {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pm := presence.NewManager(s, logger)

	return &Gateway{
		store:         s,
		rooms:         room.NewMultiplexer(logger),
		presence:      pm,
		chat:          chat.NewService(s, pm, 50, 5*time.Second, logger),
		logger:        logger,
		sendQueueSize: 16,
		clients:       make(map[string]*client),
	}
}

// connect registers an in-process client. No websocket is involved: Deliver
// only touches the send queue, which tests drain directly.
func connect(g *Gateway, connID, userID, role, name string) *client {
	c := newClient(connID, &auth.Identity{UserID: userID, Role: role, Name: name}, nil, g.sendQueueSize, g.logger)
	g.rooms.Register(c)
	return c
}

func drain(c *client) []room.Event {
	var events []room.Event
	for {
		select {
		case ev := <-c.send:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventNames(events []room.Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

func frame(event, data string) envelope {
	return envelope{Event: event, Data: json.RawMessage(data)}
}

func onlineAgent(t *testing.T, g *Gateway, agentID string) {
	t.Helper()
	_, err := g.presence.SetStatus(context.Background(), agentID, "online")
	require.NoError(t, err)
}

func TestCreateChatWithInitialMessage(t *testing.T) {
	g := setupGateway(t)
	onlineAgent(t, g, "agent-1")
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")

	g.dispatch(c, frame(EventCreateChat, `{"message": "my heating is broken"}`))

	events := drain(c)
	require.Equal(t, []string{EventChatCreated, EventMessageReceived, EventMessageDelivered}, eventNames(events))

	created := events[0].Data.(chatJSON)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, "agent-1", created.AgentID)
	assert.Equal(t, "active", created.Status)

	msg := events[1].Data.(messageJSON)
	assert.Equal(t, created.ID, msg.ChatID)
	assert.Equal(t, "my heating is broken", msg.Message)
	assert.Equal(t, "user", msg.SenderType)

	ack := events[2].Data.(messageDeliveredPayload)
	assert.Equal(t, msg.ID, ack.MessageID)
	assert.Equal(t, "delivered", ack.Status)

	// The creator is in the chat room without an explicit join
	assert.Equal(t, 1, g.rooms.MemberCount(roomID(created.ID)))

	stored, err := g.store.ListMessages(context.Background(), created.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestCreateChatWithoutMessage(t *testing.T) {
	g := setupGateway(t)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")

	g.dispatch(c, frame(EventCreateChat, `{}`))

	events := drain(c)
	require.Equal(t, []string{EventChatCreated}, eventNames(events))
	assert.Empty(t, events[0].Data.(chatJSON).AgentID, "no agent online, chat stays unassigned")
}

func TestJoinChatReplaysHistory(t *testing.T) {
	g := setupGateway(t)
	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := g.chat.Send(context.Background(), chat.SendParams{
			ChatID: ch.ID, SenderID: "user-1", SenderType: store.SenderTypeUser,
			Text: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	g.dispatch(agent, frame(EventJoinChat, fmt.Sprintf(`{"chatId": %q}`, ch.ID)))

	events := drain(agent)
	require.Equal(t, []string{EventUserJoined, EventJoinChatSuccess}, eventNames(events))

	joined := events[0].Data.(userJoinedPayload)
	assert.Equal(t, "agent-1", joined.UserID)
	assert.Equal(t, "Sam", joined.UserName)

	success := events[1].Data.(joinChatSuccessPayload)
	assert.Equal(t, ch.ID, success.ChatID)
	require.Len(t, success.Messages, 3)
	assert.Equal(t, "message 0", success.Messages[0].Message)
	assert.Equal(t, "message 2", success.Messages[2].Message)
}

func TestJoinChatNotifiesExistingMembers(t *testing.T) {
	g := setupGateway(t)
	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)

	user := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")
	g.rooms.Join(roomID(ch.ID), user)

	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	g.dispatch(agent, frame(EventJoinChat, fmt.Sprintf(`{"chatId": %q}`, ch.ID)))

	userEvents := drain(user)
	require.Equal(t, []string{EventUserJoined}, eventNames(userEvents))
	assert.Equal(t, "agent-1", userEvents[0].Data.(userJoinedPayload).UserID)
}

// brokenHistoryStore fails message listing while every other operation
// works, to exercise the join path when history cannot be loaded.
type brokenHistoryStore struct {
	store.SessionStore
}

func (s brokenHistoryStore) ListMessages(context.Context, string, int, int) ([]*store.Message, error) {
	return nil, errors.New("disk on fire")
}

func TestJoinChatHistoryFailureLeavesNoTrace(t *testing.T) {
	g := setupGateway(t)
	g.chat = chat.NewService(brokenHistoryStore{SessionStore: g.store}, g.presence, 50, 5*time.Second, g.logger)

	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)

	member := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")
	g.rooms.Join(roomID(ch.ID), member)

	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	g.dispatch(agent, frame(EventJoinChat, fmt.Sprintf(`{"chatId": %q}`, ch.ID)))

	events := drain(agent)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Equal(t, "could not load history", events[0].Data.(errorPayload).Message)

	// The failed joiner was never announced and never entered the room
	assert.Empty(t, drain(member))
	assert.Equal(t, 1, g.rooms.MemberCount(roomID(ch.ID)))
}

func TestJoinChatRejectsOtherUsersChat(t *testing.T) {
	g := setupGateway(t)
	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)

	intruder := connect(g, "conn-x", "user-2", auth.RoleUser, "Mallory")
	g.dispatch(intruder, frame(EventJoinChat, fmt.Sprintf(`{"chatId": %q}`, ch.ID)))

	events := drain(intruder)
	require.Equal(t, []string{EventError}, eventNames(events))
	errPayload := events[0].Data.(errorPayload)
	assert.Equal(t, "not a participant of this chat", errPayload.Message)
	assert.Equal(t, EventJoinChat, errPayload.Event)
	assert.Equal(t, 0, g.rooms.MemberCount(roomID(ch.ID)))
}

func TestJoinChatUnknownChat(t *testing.T) {
	g := setupGateway(t)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")

	g.dispatch(c, frame(EventJoinChat, `{"chatId": "nope"}`))

	events := drain(c)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Equal(t, "chat not found", events[0].Data.(errorPayload).Message)
}

func TestSendMessageReachesRoomAndAcksSender(t *testing.T) {
	g := setupGateway(t)
	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)

	user := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")
	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	outsider := connect(g, "conn-o", "user-9", auth.RoleUser, "Evan")
	g.rooms.Join(roomID(ch.ID), user)
	g.rooms.Join(roomID(ch.ID), agent)

	g.dispatch(agent, frame(EventSendMessage, fmt.Sprintf(`{"chatId": %q, "message": "hello, how can I help?"}`, ch.ID)))

	userEvents := drain(user)
	require.Equal(t, []string{EventMessageReceived}, eventNames(userEvents))
	got := userEvents[0].Data.(messageJSON)
	assert.Equal(t, "hello, how can I help?", got.Message)
	assert.Equal(t, "agent", got.SenderType)
	assert.Equal(t, "agent-1", got.SenderID)

	agentEvents := drain(agent)
	require.Equal(t, []string{EventMessageReceived, EventMessageDelivered}, eventNames(agentEvents))

	assert.Empty(t, drain(outsider), "connections outside the room hear nothing")
}

func TestSendMessageMissingChatID(t *testing.T) {
	g := setupGateway(t)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")
	other := connect(g, "conn-2", "user-2", auth.RoleUser, "Evan")

	g.dispatch(c, frame(EventSendMessage, `{"message": "orphan"}`))

	events := drain(c)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Equal(t, "chatId is required", events[0].Data.(errorPayload).Message)
	assert.Empty(t, drain(other))
}

func TestSendMessageEmptyText(t *testing.T) {
	g := setupGateway(t)
	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")
	g.rooms.Join(roomID(ch.ID), c)

	g.dispatch(c, frame(EventSendMessage, fmt.Sprintf(`{"chatId": %q, "message": "   "}`, ch.ID)))

	events := drain(c)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Equal(t, "message is empty", events[0].Data.(errorPayload).Message)

	stored, err := g.store.ListMessages(context.Background(), ch.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, stored, "nothing persisted for a rejected message")
}

func TestSendMessageBlankTextWithAttachment(t *testing.T) {
	g := setupGateway(t)
	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")
	g.rooms.Join(roomID(ch.ID), c)

	g.dispatch(c, frame(EventSendMessage,
		fmt.Sprintf(`{"chatId": %q, "message": "   ", "fileUrl": "https://files.example.com/x.png"}`, ch.ID)))

	events := drain(c)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Equal(t, "message is empty", events[0].Data.(errorPayload).Message)

	stored, err := g.store.ListMessages(context.Background(), ch.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, stored, "an attachment alone is not a message")
}

func TestSendMessageToClosedChat(t *testing.T) {
	g := setupGateway(t)
	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = g.chat.Close(context.Background(), ch.ID)
	require.NoError(t, err)

	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")
	g.dispatch(c, frame(EventSendMessage, fmt.Sprintf(`{"chatId": %q, "message": "too late"}`, ch.ID)))

	events := drain(c)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Equal(t, "chat is closed", events[0].Data.(errorPayload).Message)
}

func TestTypingExcludesSender(t *testing.T) {
	g := setupGateway(t)
	user := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")
	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	g.rooms.Join(roomID("chat-1"), user)
	g.rooms.Join(roomID("chat-1"), agent)

	g.dispatch(user, frame(EventTyping, `{"chatId": "chat-1"}`))

	agentEvents := drain(agent)
	require.Equal(t, []string{EventUserTyping}, eventNames(agentEvents))
	typing := agentEvents[0].Data.(userTypingPayload)
	assert.Equal(t, "user-1", typing.UserID)
	assert.True(t, typing.IsTyping)

	assert.Empty(t, drain(user), "the typist does not hear their own signal")

	g.dispatch(user, frame(EventStopTyping, `{"chatId": "chat-1"}`))
	agentEvents = drain(agent)
	require.Len(t, agentEvents, 1)
	assert.False(t, agentEvents[0].Data.(userTypingPayload).IsTyping)
}

func TestTypingWithoutChatIDIsSilent(t *testing.T) {
	g := setupGateway(t)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")

	g.dispatch(c, frame(EventTyping, `{}`))

	assert.Empty(t, drain(c), "typing signals are best-effort, no error frame")
}

func TestMarkReadBroadcastsToAllConnections(t *testing.T) {
	g := setupGateway(t)
	ch, err := g.chat.Create(context.Background(), "user-1")
	require.NoError(t, err)
	msg, err := g.chat.Send(context.Background(), chat.SendParams{
		ChatID: ch.ID, SenderID: "agent-1", SenderType: store.SenderTypeAgent, Text: "any update?",
	})
	require.NoError(t, err)

	reader := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")
	elsewhere := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")

	g.dispatch(reader, frame(EventMarkRead, fmt.Sprintf(`{"messageId": %q}`, msg.ID)))

	// Read receipts are global so unjoined surfaces can clear badges
	for _, c := range []*client{reader, elsewhere} {
		events := drain(c)
		require.Equal(t, []string{EventMessageRead}, eventNames(events))
		receipt := events[0].Data.(messageReadPayload)
		assert.Equal(t, msg.ID, receipt.MessageID)
		assert.Equal(t, "user-1", receipt.ReadBy)
		assert.False(t, receipt.ReadAt.IsZero())
	}
}

func TestMarkReadUnknownMessage(t *testing.T) {
	g := setupGateway(t)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")

	g.dispatch(c, frame(EventMarkRead, `{"messageId": "nope"}`))

	events := drain(c)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Equal(t, "message not found", events[0].Data.(errorPayload).Message)
}

func TestAgentStatusRequiresAgentRole(t *testing.T) {
	g := setupGateway(t)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")

	g.dispatch(c, frame(EventAgentStatus, `{"status": "online"}`))

	events := drain(c)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Equal(t, "agent role required", events[0].Data.(errorPayload).Message)
}

func TestAgentStatusBroadcasts(t *testing.T) {
	g := setupGateway(t)
	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	user := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")

	g.dispatch(agent, frame(EventAgentStatus, `{"status": "away"}`))

	for _, c := range []*client{agent, user} {
		events := drain(c)
		require.Equal(t, []string{EventAgentStatusUpdated}, eventNames(events))
		update := events[0].Data.(agentStatusUpdatedPayload)
		assert.Equal(t, "agent-1", update.AgentID)
		assert.Equal(t, "away", update.Status)
	}

	p, err := g.presence.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusAway, p.Status)
}

func TestAgentStatusRejectsUnknownValue(t *testing.T) {
	g := setupGateway(t)
	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	user := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")

	g.dispatch(agent, frame(EventAgentStatus, `{"status": "sleeping"}`))

	events := drain(agent)
	require.Equal(t, []string{EventError}, eventNames(events))
	assert.Empty(t, drain(user), "invalid status is not broadcast")
}

func TestLeaveChatNotifiesRemaining(t *testing.T) {
	g := setupGateway(t)
	user := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")
	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	g.rooms.Join(roomID("chat-1"), user)
	g.rooms.Join(roomID("chat-1"), agent)

	g.dispatch(agent, frame(EventLeaveChat, `{"chatId": "chat-1"}`))

	userEvents := drain(user)
	require.Equal(t, []string{EventUserLeft}, eventNames(userEvents))
	assert.Equal(t, "agent-1", userEvents[0].Data.(userLeftPayload).UserID)

	assert.Empty(t, drain(agent), "the leaver is out of the room before the broadcast")
	assert.Equal(t, 1, g.rooms.MemberCount(roomID("chat-1")))
}

func TestAgentDisconnectGoesOffline(t *testing.T) {
	g := setupGateway(t)
	onlineAgent(t, g, "agent-1")
	agent := connect(g, "conn-a", "agent-1", auth.RoleAgent, "Sam")
	user := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")

	g.handleDisconnect(agent)

	userEvents := drain(user)
	require.Equal(t, []string{EventAgentStatusUpdated}, eventNames(userEvents))
	update := userEvents[0].Data.(agentStatusUpdatedPayload)
	assert.Equal(t, "agent-1", update.AgentID)
	assert.Equal(t, "offline", update.Status)

	p, err := g.presence.Get(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusOffline, p.Status)
}

func TestUserDisconnectIsQuiet(t *testing.T) {
	g := setupGateway(t)
	user := connect(g, "conn-u", "user-1", auth.RoleUser, "Dana")
	observer := connect(g, "conn-o", "user-2", auth.RoleUser, "Evan")
	g.rooms.Join(roomID("chat-1"), user)

	g.handleDisconnect(user)

	assert.Empty(t, drain(observer))
	assert.Equal(t, 0, g.rooms.MemberCount(roomID("chat-1")))
}

func TestUnknownEvent(t *testing.T) {
	g := setupGateway(t)
	c := connect(g, "conn-1", "user-1", auth.RoleUser, "Dana")

	g.dispatch(c, frame("self-destruct", `{}`))

	events := drain(c)
	require.Equal(t, []string{EventError}, eventNames(events))
	errPayload := events[0].Data.(errorPayload)
	assert.Equal(t, "unknown event", errPayload.Message)
	assert.Equal(t, "self-destruct", errPayload.Event)
}
