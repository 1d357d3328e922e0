// ABOUTME: Wire protocol for the websocket endpoint: envelopes and payloads
// ABOUTME: Every frame is {"event": name, "data": object} in both directions

package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lodgepoint/support-gateway/internal/store"
)

// Client-to-server event names.
const (
	EventCreateChat  = "create-chat"
	EventJoinChat    = "join-chat"
	EventSendMessage = "send-message"
	EventMarkRead    = "mark-read"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
	EventAgentStatus = "agent-status"
	EventLeaveChat   = "leave-chat"
)

// Server-to-client event names.
const (
	EventChatCreated        = "chat-created"
	EventUserJoined         = "user-joined"
	EventJoinChatSuccess    = "join-chat-success"
	EventMessageReceived    = "message-received"
	EventMessageDelivered   = "message-delivered"
	EventMessageRead        = "message-read"
	EventUserTyping         = "user-typing"
	EventAgentStatusUpdated = "agent-status-updated"
	EventUserLeft           = "user-left"
	EventChatClosed         = "chat-closed"
	EventError              = "error"
)

// envelope is an inbound frame. Data stays raw until the event name selects
// a payload type.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound payloads.

type createChatPayload struct {
	Message string `json:"message,omitempty"`
}

type joinChatPayload struct {
	ChatID string `json:"chatId"`
}

type sendMessagePayload struct {
	ChatID   string `json:"chatId"`
	Message  string `json:"message"`
	FileURL  string `json:"fileUrl,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

type markReadPayload struct {
	MessageID string `json:"messageId"`
}

type typingPayload struct {
	ChatID string `json:"chatId"`
}

type agentStatusPayload struct {
	Status string `json:"status"`
}

type leaveChatPayload struct {
	ChatID string `json:"chatId"`
}

// Outbound payloads.

type chatJSON struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	AgentID   string     `json:"agentId,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func toChatJSON(c *store.Chat) chatJSON {
	return chatJSON{
		ID:        c.ID,
		UserID:    c.UserID,
		AgentID:   c.AgentID,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		EndedAt:   c.EndedAt,
	}
}

type messageJSON struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chatId"`
	SenderID   string     `json:"senderId"`
	SenderType string     `json:"senderType"`
	Message    string     `json:"message"`
	FileURL    string     `json:"fileUrl,omitempty"`
	FileType   string     `json:"fileType,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}

func toMessageJSON(m *store.Message) messageJSON {
	return messageJSON{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderType: string(m.SenderType),
		Message:    m.Text,
		FileURL:    m.FileURL,
		FileType:   m.FileType,
		CreatedAt:  m.CreatedAt,
		ReadAt:     m.ReadAt,
	}
}

func toMessagesJSON(msgs []*store.Message) []messageJSON {
	out := make([]messageJSON, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageJSON(m)
	}
	return out
}

type userJoinedPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type joinChatSuccessPayload struct {
	ChatID   string        `json:"chatId"`
	Messages []messageJSON `json:"messages"`
}

type messageDeliveredPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type messageReadPayload struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

type userTypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type agentStatusUpdatedPayload struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

type userLeftPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// decodePayload unmarshals an envelope's data into the payload type for its
// event. A null or absent data object decodes to the zero payload, so
// required-field checks stay in the handlers.
func decodePayload(env envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", env.Event, err)
	}
	return nil
}
