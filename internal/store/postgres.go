// ABOUTME: Postgres implementation of the Store interface using pgx
// ABOUTME: Row-level locking makes assignment safe across multiple gateway instances

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface on a pgx connection pool.
// It is the production store for deployments running more than one gateway
// instance against a shared database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to the given database URL, verifies the
// connection, and creates the schema if it doesn't exist.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			agent_id   TEXT,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			ended_at   TIMESTAMPTZ,

			CHECK (status IN ('active', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_chats_agent ON chats(agent_id, status);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			chat_id     TEXT NOT NULL REFERENCES chats(id),
			sender_id   TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			text        TEXT NOT NULL,
			file_url    TEXT,
			file_type   TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			read_at     TIMESTAMPTZ,

			CHECK (sender_type IN ('user', 'agent')),
			CHECK (text <> '')
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages(chat_id, created_at, id);
		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(chat_id, sender_type) WHERE read_at IS NULL;

		CREATE TABLE IF NOT EXISTS agent_presence (
			agent_id           TEXT PRIMARY KEY,
			status             TEXT NOT NULL DEFAULT 'offline',
			last_active_at     TIMESTAMPTZ NOT NULL,
			current_chat_count INTEGER NOT NULL DEFAULT 0,

			CHECK (status IN ('online', 'away', 'busy', 'offline')),
			CHECK (current_chat_count >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_presence_status
			ON agent_presence(status, current_chat_count, last_active_at);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	s.pool.Close()
	return nil
}

// CreateChat inserts a new chat row.
func (s *PostgresStore) CreateChat(ctx context.Context, chat *Chat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chats (id, user_id, agent_id, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`,
		chat.ID, chat.UserID, chat.AgentID, string(chat.Status),
		chat.CreatedAt.UTC(), chat.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "id", chat.ID, "user_id", chat.UserID, "agent_id", chat.AgentID)
	return nil
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, COALESCE(agent_id, ''), status, created_at, updated_at, ended_at
		FROM chats
		WHERE id = $1
	`, id)
	return scanPGChat(row)
}

func scanPGChat(row pgx.Row) (*Chat, error) {
	var chat Chat
	err := row.Scan(&chat.ID, &chat.UserID, &chat.AgentID, &chat.Status,
		&chat.CreatedAt, &chat.UpdatedAt, &chat.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning chat: %w", err)
	}
	return &chat, nil
}

// AppendMessage inserts a message after verifying the chat is still active.
// The chat row is locked for the duration of the transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM chats WHERE id = $1 FOR UPDATE`, msg.ChatID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying chat status: %w", err)
	}
	if ChatStatus(status) != ChatStatusActive {
		return ErrChatClosed
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, sender_type, text, file_url, file_type, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
	`,
		msg.ID, msg.ChatID, msg.SenderID, string(msg.SenderType),
		msg.Text, msg.FileURL, msg.FileType, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE chats SET updated_at = $1 WHERE id = $2`,
		msg.CreatedAt.UTC(), msg.ChatID)
	if err != nil {
		return fmt.Errorf("touching chat: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	return nil
}

// MarkMessageRead sets read_at if unset and returns the message.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, messageID string, readAt time.Time) (*Message, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE messages SET read_at = $1 WHERE id = $2 AND read_at IS NULL`,
		readAt.UTC(), messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("marking message read: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, sender_id, sender_type, text,
			COALESCE(file_url, ''), COALESCE(file_type, ''), created_at, read_at
		FROM messages
		WHERE id = $1
	`, messageID)
	return scanPGMessage(row)
}

func scanPGMessage(row pgx.Row) (*Message, error) {
	var msg Message
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.SenderType,
		&msg.Text, &msg.FileURL, &msg.FileType, &msg.CreatedAt, &msg.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns a page of a chat's messages in chronological order.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, sender_type, text,
			COALESCE(file_url, ''), COALESCE(file_type, ''), created_at, read_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanPGMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CloseChat transitions a chat to closed and decrements the assigned agent's
// load counter in the same transaction.
func (s *PostgresStore) CloseChat(ctx context.Context, chatID string) (*Chat, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	chat, err := scanPGChat(tx.QueryRow(ctx, `
		SELECT id, user_id, COALESCE(agent_id, ''), status, created_at, updated_at, ended_at
		FROM chats
		WHERE id = $1
		FOR UPDATE
	`, chatID))
	if err != nil {
		return nil, err
	}

	if chat.Status == ChatStatusClosed {
		return chat, nil
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE chats SET status = 'closed', ended_at = $1, updated_at = $1 WHERE id = $2`,
		now, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("closing chat: %w", err)
	}

	if chat.AgentID != "" {
		_, err = tx.Exec(ctx, `
			UPDATE agent_presence
			SET current_chat_count = GREATEST(current_chat_count - 1, 0)
			WHERE agent_id = $1
		`, chat.AgentID)
		if err != nil {
			return nil, fmt.Errorf("releasing agent load: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing close: %w", err)
	}

	chat.Status = ChatStatusClosed
	chat.EndedAt = &now
	chat.UpdatedAt = now
	return chat, nil
}

// ListUserChats returns a user's chats with unread counts and previews.
func (s *PostgresStore) ListUserChats(ctx context.Context, userID string, limit int) ([]*ChatSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.user_id, COALESCE(c.agent_id, ''), c.status, c.created_at, c.updated_at, c.ended_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.chat_id = c.id AND m.sender_type = 'agent' AND m.read_at IS NULL),
			COALESCE((SELECT m.text FROM messages m
				WHERE m.chat_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1), ''),
			(SELECT m.created_at FROM messages m
				WHERE m.chat_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
		FROM chats c
		WHERE c.user_id = $1
		ORDER BY c.updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying user chats: %w", err)
	}
	defer rows.Close()

	var summaries []*ChatSummary
	for rows.Next() {
		var sum ChatSummary
		if err := rows.Scan(
			&sum.ID, &sum.UserID, &sum.AgentID, &sum.Status,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.EndedAt,
			&sum.UnreadCount, &sum.LastMessage, &sum.LastMessageAt,
		); err != nil {
			return nil, fmt.Errorf("scanning chat summary: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}
	return summaries, nil
}

// UnreadCountForUser counts unread agent-sent messages across the user's chats.
func (s *PostgresStore) UnreadCountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN chats c ON c.id = m.chat_id
		WHERE c.user_id = $1 AND m.sender_type = 'agent' AND m.read_at IS NULL
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// UpsertAgentStatus creates or updates an agent's presence row.
func (s *PostgresStore) UpsertAgentStatus(ctx context.Context, agentID string, status AgentStatus, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_presence (agent_id, status, last_active_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_active_at = EXCLUDED.last_active_at
	`, agentID, string(status), at.UTC())
	if err != nil {
		return fmt.Errorf("upserting agent status: %w", err)
	}
	return nil
}

// GetAgentPresence retrieves one agent's presence row.
func (s *PostgresStore) GetAgentPresence(ctx context.Context, agentID string) (*AgentPresence, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT agent_id, status, last_active_at, current_chat_count
		FROM agent_presence
		WHERE agent_id = $1
	`, agentID)

	var p AgentPresence
	err := row.Scan(&p.AgentID, &p.Status, &p.LastActiveAt, &p.CurrentChatCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning presence: %w", err)
	}
	return &p, nil
}

// ListAgentPresence returns all presence rows, least loaded first.
func (s *PostgresStore) ListAgentPresence(ctx context.Context) ([]*AgentPresence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, status, last_active_at, current_chat_count
		FROM agent_presence
		ORDER BY current_chat_count ASC, last_active_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying presence: %w", err)
	}
	defer rows.Close()

	var presences []*AgentPresence
	for rows.Next() {
		var p AgentPresence
		if err := rows.Scan(&p.AgentID, &p.Status, &p.LastActiveAt, &p.CurrentChatCount); err != nil {
			return nil, fmt.Errorf("scanning presence: %w", err)
		}
		presences = append(presences, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presence rows: %w", err)
	}
	return presences, nil
}

// SelectAndAssignAgent picks the least-loaded eligible agent and increments
// its load in one statement. FOR UPDATE SKIP LOCKED keeps concurrent
// assignments from separate gateway instances off the same row.
func (s *PostgresStore) SelectAndAssignAgent(ctx context.Context) (string, error) {
	var agentID string
	err := s.pool.QueryRow(ctx, `
		UPDATE agent_presence
		SET current_chat_count = current_chat_count + 1
		WHERE agent_id = (
			SELECT agent_id FROM agent_presence
			WHERE status IN ('online', 'away')
			ORDER BY current_chat_count ASC, last_active_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING agent_id
	`).Scan(&agentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoAgentAvailable
	}
	if err != nil {
		return "", fmt.Errorf("assigning agent: %w", err)
	}

	s.logger.Debug("assigned agent", "agent_id", agentID)
	return agentID, nil
}

// ReleaseAgent decrements an agent's load counter, flooring at zero.
func (s *PostgresStore) ReleaseAgent(ctx context.Context, agentID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_presence
		SET current_chat_count = GREATEST(current_chat_count - 1, 0)
		WHERE agent_id = $1
	`, agentID)
	if err != nil {
		return fmt.Errorf("releasing agent: %w", err)
	}
	return nil
}

// ActiveChatCount counts active chats assigned to the agent.
func (s *PostgresStore) ActiveChatCount(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chats WHERE agent_id = $1 AND status = 'active'`,
		agentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active chats: %w", err)
	}
	return count, nil
}
