// ABOUTME: Chat lifecycle service: create, send, read receipts, close, history
// ABOUTME: Owns persistence ordering so broadcasts only follow committed writes

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lodgepoint/support-gateway/internal/presence"
	"github.com/lodgepoint/support-gateway/internal/store"
)

// ErrEmptyMessage indicates a send with no text and no file attachment.
var ErrEmptyMessage = errors.New("message has no content")

// Service implements chat operations on top of the session store.
// Every store call runs under a bounded deadline so a stalled database
// cannot wedge a websocket handler.
type Service struct {
	store        store.SessionStore
	presence     *presence.Manager
	logger       *slog.Logger
	historyLimit int
	storeTimeout time.Duration
}

// NewService creates a chat service. historyLimit caps the messages replayed
// on join; storeTimeout bounds each store operation.
func NewService(s store.SessionStore, pm *presence.Manager, historyLimit int, storeTimeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Service{
		store:        s,
		presence:     pm,
		logger:       logger.With("component", "chat"),
		historyLimit: historyLimit,
		storeTimeout: storeTimeout,
	}
}

// SendParams carries one outbound message. Text may be empty when a file is
// attached; FileURL points at an already-uploaded object.
type SendParams struct {
	ChatID     string
	SenderID   string
	SenderType store.SenderType
	Text       string
	FileURL    string
	FileType   string
}

// Create starts a new chat for a user, assigning the least-loaded available
// agent. If no agent is available the chat starts unassigned.
func (s *Service) Create(ctx context.Context, userID string) (*store.Chat, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	agentID, err := s.presence.AssignAgent(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	chat := &store.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		AgentID:   agentID,
		Status:    store.ChatStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateChat(ctx, chat); err != nil {
		// Give the reserved slot back so the counter stays truthful
		if rbErr := s.presence.ReleaseAgent(ctx, agentID); rbErr != nil {
			s.logger.Error("failed to roll back agent assignment",
				"agent_id", agentID, "error", rbErr)
		}
		return nil, fmt.Errorf("creating chat: %w", err)
	}

	s.logger.Info("chat created", "chat_id", chat.ID, "user_id", userID, "agent_id", agentID)
	return chat, nil
}

// Get returns a chat by ID.
func (s *Service) Get(ctx context.Context, chatID string) (*store.Chat, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.GetChat(ctx, chatID)
}

// Send validates and persists a message. The returned message carries the
// server-assigned ID and timestamp; callers broadcast only after this
// returns, so receivers never see an unpersisted message.
func (s *Service) Send(ctx context.Context, p SendParams) (*store.Message, error) {
	// Attachments ride along with text; they never replace it
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	msg := &store.Message{
		ID:         uuid.NewString(),
		ChatID:     p.ChatID,
		SenderID:   p.SenderID,
		SenderType: p.SenderType,
		Text:       text,
		FileURL:    p.FileURL,
		FileType:   p.FileType,
		CreatedAt:  time.Now().UTC(),
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// MarkRead records a read receipt. Already-read messages keep their original
// timestamp, so repeated receipts are harmless.
func (s *Service) MarkRead(ctx context.Context, messageID string) (*store.Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.MarkMessageRead(ctx, messageID, time.Now().UTC())
}

// Close ends a chat and frees the assigned agent's slot. Closing an
// already-closed chat returns it unchanged.
func (s *Service) Close(ctx context.Context, chatID string) (*store.Chat, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	chat, err := s.store.CloseChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("chat closed", "chat_id", chatID, "agent_id", chat.AgentID)
	return chat, nil
}

// History returns a page of a chat's messages in chronological order.
// Offset 0 is the newest page.
func (s *Service) History(ctx context.Context, chatID string, limit, offset int) ([]*store.Message, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.ListMessages(ctx, chatID, limit, offset)
}

// ListForUser returns the user's chats with unread counts and previews.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*store.ChatSummary, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.ListUserChats(ctx, userID, 0)
}

// UnreadForUser returns the user's total unread message count.
func (s *Service) UnreadForUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.UnreadCountForUser(ctx, userID)
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}
