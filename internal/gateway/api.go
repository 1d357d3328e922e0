// ABOUTME: REST API for chat lists, history paging, closing, and presence
// ABOUTME: Complements the websocket: clients fetch state here after reconnect

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lodgepoint/support-gateway/internal/auth"
	"github.com/lodgepoint/support-gateway/internal/room"
	"github.com/lodgepoint/support-gateway/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleChats serves GET (list caller's chats) and POST (create a chat).
func (g *Gateway) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListChats(w, r)
	case http.MethodPost:
		g.handleCreateChatHTTP(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type chatSummaryJSON struct {
	chatJSON
	UnreadCount   int        `json:"unreadCount"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	summaries, err := g.chat.ListForUser(r.Context(), identity.UserID)
	if err != nil {
		g.logger.Error("failed to list chats", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list chats")
		return
	}

	out := make([]chatSummaryJSON, len(summaries))
	for i, s := range summaries {
		out[i] = chatSummaryJSON{
			chatJSON:      toChatJSON(&s.Chat),
			UnreadCount:   s.UnreadCount,
			LastMessage:   s.LastMessage,
			LastMessageAt: s.LastMessageAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

func (g *Gateway) handleCreateChatHTTP(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	created, err := g.chat.Create(r.Context(), identity.UserID)
	if err != nil {
		g.logger.Error("failed to create chat", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create chat")
		return
	}

	writeJSON(w, http.StatusCreated, toChatJSON(created))
}

// handleChatSubroutes dispatches /api/chats/{id}/messages and
// /api/chats/{id}/close.
func (g *Gateway) handleChatSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	chatID, action := parts[0], parts[1]

	ch, err := g.chat.Get(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load chat")
		return
	}

	identity := auth.MustFromContext(r.Context())
	if !identity.IsAgent() && ch.UserID != identity.UserID {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}

	switch action {
	case "messages":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		g.handleChatMessages(w, r, chatID)
	case "close":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		g.handleCloseChat(w, r, chatID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (g *Gateway) handleChatMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	messages, err := g.chat.History(r.Context(), chatID, limit, offset)
	if err != nil {
		g.logger.Error("failed to load history", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessagesJSON(messages)})
}

func (g *Gateway) handleCloseChat(w http.ResponseWriter, r *http.Request, chatID string) {
	closed, err := g.chat.Close(r.Context(), chatID)
	if err != nil {
		g.logger.Error("failed to close chat", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not close chat")
		return
	}

	// Anyone still in the room learns the chat is over
	g.rooms.Broadcast(roomID(chatID), room.Event{
		Name: EventChatClosed,
		Data: toChatJSON(closed),
	}, "")

	writeJSON(w, http.StatusOK, toChatJSON(closed))
}

func (g *Gateway) handleUnread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	identity := auth.MustFromContext(r.Context())
	count, err := g.chat.UnreadForUser(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not count unread messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

type agentPresenceJSON struct {
	AgentID          string `json:"agentId"`
	Status           string `json:"status"`
	LastActiveAt     string `json:"lastActiveAt"`
	CurrentChatCount int    `json:"currentChatCount"`
}

// handleAgents lists agent presence. Gated to support-side roles by
// auth.RequireAgent at route registration.
func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	agents, err := g.presence.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list agents")
		return
	}

	out := make([]agentPresenceJSON, len(agents))
	for i, a := range agents {
		out[i] = agentPresenceJSON{
			AgentID:          a.AgentID,
			Status:           string(a.Status),
			LastActiveAt:     a.LastActiveAt.Format(time.RFC3339),
			CurrentChatCount: a.CurrentChatCount,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}
