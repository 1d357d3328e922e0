// ABOUTME: Manages support-agent availability and chat assignment
// ABOUTME: Thin coordination layer over the presence store

package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lodgepoint/support-gateway/internal/store"
)

// ErrInvalidStatus indicates a status outside online/away/busy/offline.
var ErrInvalidStatus = errors.New("invalid agent status")

// Manager coordinates agent presence and load-based chat assignment.
// All state lives in the store so multiple gateway instances see the
// same availability picture.
type Manager struct {
	store  store.PresenceStore
	logger *slog.Logger
}

// NewManager creates a new Manager instance.
func NewManager(s store.PresenceStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		logger: logger.With("component", "presence"),
	}
}

// SetStatus records an agent's status and returns the updated presence row.
// Returns ErrInvalidStatus for unknown status strings.
func (m *Manager) SetStatus(ctx context.Context, agentID, status string) (*store.AgentPresence, error) {
	if !store.ValidAgentStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if err := m.store.UpsertAgentStatus(ctx, agentID, store.AgentStatus(status), time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("updating agent status: %w", err)
	}

	p, err := m.store.GetAgentPresence(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("reading agent presence: %w", err)
	}

	m.logger.Info("agent status changed",
		"agent_id", agentID,
		"status", status,
		"chat_count", p.CurrentChatCount,
	)
	return p, nil
}

// AssignAgent picks the least-loaded online or away agent and reserves a
// chat slot on it. Returns "" with no error when no agent is available, so
// chats can still be created unassigned.
func (m *Manager) AssignAgent(ctx context.Context) (string, error) {
	agentID, err := m.store.SelectAndAssignAgent(ctx)
	if errors.Is(err, store.ErrNoAgentAvailable) {
		m.logger.Info("no agent available, chat will start unassigned")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("assigning agent: %w", err)
	}

	m.logger.Info("agent assigned", "agent_id", agentID)
	return agentID, nil
}

// ReleaseAgent returns a previously reserved chat slot. Used to roll back
// an assignment when chat creation fails after the slot was taken.
func (m *Manager) ReleaseAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return nil
	}
	if err := m.store.ReleaseAgent(ctx, agentID); err != nil {
		return fmt.Errorf("releasing agent: %w", err)
	}
	return nil
}

// HandleDisconnect marks an agent offline when its websocket drops.
// The agent's chat slots stay reserved; chats are only released on close.
func (m *Manager) HandleDisconnect(ctx context.Context, agentID string) (*store.AgentPresence, error) {
	return m.SetStatus(ctx, agentID, string(store.AgentStatusOffline))
}

// Get returns one agent's presence row.
func (m *Manager) Get(ctx context.Context, agentID string) (*store.AgentPresence, error) {
	return m.store.GetAgentPresence(ctx, agentID)
}

// List returns all known agents, least loaded first.
func (m *Manager) List(ctx context.Context) ([]*store.AgentPresence, error) {
	return m.store.ListAgentPresence(ctx)
}
