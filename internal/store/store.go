// ABOUTME: Store interface and data types for support-gateway persistence
// ABOUTME: Defines Chat, Message, AgentPresence and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrChatClosed is returned when appending a message to a closed chat
var ErrChatClosed = errors.New("chat is closed")

// ErrNoAgentAvailable is returned when no agent is eligible for assignment
var ErrNoAgentAvailable = errors.New("no agent available")

// ChatStatus is the lifecycle state of a chat. Chats move active -> closed
// exactly once; closed is terminal.
type ChatStatus string

const (
	ChatStatusActive ChatStatus = "active"
	ChatStatusClosed ChatStatus = "closed"
)

// SenderType identifies which side of a chat authored a message.
type SenderType string

const (
	SenderTypeUser  SenderType = "user"
	SenderTypeAgent SenderType = "agent"
)

// AgentStatus is an agent's availability state.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusAway    AgentStatus = "away"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusOffline AgentStatus = "offline"
)

// ValidAgentStatus reports whether s names one of the four agent states.
func ValidAgentStatus(s string) bool {
	switch AgentStatus(s) {
	case AgentStatusOnline, AgentStatusAway, AgentStatusBusy, AgentStatusOffline:
		return true
	}
	return false
}

// Chat represents a support conversation between a user and (optionally) an agent.
// AgentID is empty until an agent is assigned.
type Chat struct {
	ID        string
	UserID    string
	AgentID   string
	Status    ChatStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	EndedAt   *time.Time
}

// Message is a single chat message. Immutable after creation except ReadAt.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderType SenderType
	Text       string
	FileURL    string
	FileType   string
	CreatedAt  time.Time
	ReadAt     *time.Time
}

// ChatSummary is a chat annotated with unread count and last-message preview,
// as returned by ListUserChats.
type ChatSummary struct {
	Chat
	UnreadCount   int
	LastMessage   string
	LastMessageAt *time.Time
}

// AgentPresence is the durable availability record for one agent.
// CurrentChatCount tracks the number of active chats assigned to the agent
// and must equal the count of active Chat rows with this AgentID.
type AgentPresence struct {
	AgentID          string
	Status           AgentStatus
	LastActiveAt     time.Time
	CurrentChatCount int
}

// SessionStore persists chats and messages.
type SessionStore interface {
	// CreateChat inserts a new chat.
	CreateChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat by ID. Returns ErrNotFound if it doesn't exist.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// AppendMessage inserts a message. Returns ErrNotFound for an unknown
	// chat and ErrChatClosed when the chat is no longer active.
	AppendMessage(ctx context.Context, msg *Message) error

	// MarkMessageRead sets read_at on a message if it is not already set and
	// returns the message. Re-marking keeps the original read_at.
	MarkMessageRead(ctx context.Context, messageID string, readAt time.Time) (*Message, error)

	// ListMessages returns a page of messages for a chat. The page is
	// selected reverse-chronologically (newest first by offset) and
	// re-ordered chronologically before return.
	ListMessages(ctx context.Context, chatID string, limit, offset int) ([]*Message, error)

	// CloseChat transitions a chat to closed and releases the assigned
	// agent's load in the same transaction. Closing an already-closed chat
	// returns the chat unchanged.
	CloseChat(ctx context.Context, chatID string) (*Chat, error)

	// ListUserChats returns a user's chats, most recently updated first,
	// annotated with unread counts and last-message previews.
	ListUserChats(ctx context.Context, userID string, limit int) ([]*ChatSummary, error)

	// UnreadCountForUser counts unread agent-sent messages across all of
	// the user's chats.
	UnreadCountForUser(ctx context.Context, userID string) (int, error)
}

// PresenceStore persists agent availability and load.
//
// SelectAndAssignAgent performs least-loaded selection and the load
// increment as a single atomic statement so two concurrent assignments can
// never both pick the same agent and overshoot its true load, even with
// multiple gateway processes sharing the store.
type PresenceStore interface {
	// UpsertAgentStatus creates or updates an agent's presence row,
	// setting last_active_at. The load counter is never touched.
	UpsertAgentStatus(ctx context.Context, agentID string, status AgentStatus, at time.Time) error

	// GetAgentPresence returns one agent's presence. ErrNotFound if the
	// agent has never reported a status.
	GetAgentPresence(ctx context.Context, agentID string) (*AgentPresence, error)

	// ListAgentPresence returns all presence rows, least loaded first.
	ListAgentPresence(ctx context.Context) ([]*AgentPresence, error)

	// SelectAndAssignAgent atomically picks the eligible agent (status
	// online or away) with the lowest current_chat_count, breaking ties by
	// earliest last_active_at, increments its load, and returns its ID.
	// Returns ErrNoAgentAvailable when no agent is eligible.
	SelectAndAssignAgent(ctx context.Context) (string, error)

	// ReleaseAgent decrements an agent's load counter, flooring at zero.
	ReleaseAgent(ctx context.Context, agentID string) error

	// ActiveChatCount counts active chats assigned to the agent. Used to
	// verify the load invariant.
	ActiveChatCount(ctx context.Context, agentID string) (int, error)
}

// Store combines session and presence persistence.
type Store interface {
	SessionStore
	PresenceStore

	// Close releases any resources held by the store
	Close() error
}
