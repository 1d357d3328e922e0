// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides chat/message/presence persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is RFC 3339 with fixed-width nanoseconds. The fixed width keeps
// the stored text sortable, so ORDER BY created_at matches insertion time
// down to the nanosecond.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each pooled connection to :memory: would open its own database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			agent_id   TEXT,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			ended_at   TEXT,

			CHECK (status IN ('active', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_chats_agent ON chats(agent_id, status);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			chat_id     TEXT NOT NULL,
			sender_id   TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			text        TEXT NOT NULL,
			file_url    TEXT,
			file_type   TEXT,
			created_at  TEXT NOT NULL,
			read_at     TEXT,

			FOREIGN KEY (chat_id) REFERENCES chats(id),
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
			last_active_at     TEXT NOT NULL,
			current_chat_count INTEGER NOT NULL DEFAULT 0,

			CHECK (status IN ('online', 'away', 'busy', 'offline')),
			CHECK (current_chat_count >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_presence_status
			ON agent_presence(status, current_chat_count, last_active_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateChat inserts a new chat row.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	query := `
		INSERT INTO chats (id, user_id, agent_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		chat.ID,
		chat.UserID,
		nullableString(chat.AgentID),
		string(chat.Status),
		chat.CreatedAt.UTC().Format(timeFormat),
		chat.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "id", chat.ID, "user_id", chat.UserID, "agent_id", chat.AgentID)
	return nil
}

// GetChat retrieves a chat by ID.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	query := `
		SELECT id, user_id, agent_id, status, created_at, updated_at, ended_at
		FROM chats
		WHERE id = ?
	`
	return scanChat(s.db.QueryRowContext(ctx, query, id))
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var agentID, endedAtStr sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&chat.ID,
		&chat.UserID,
		&agentID,
		&chat.Status,
		&createdAtStr,
		&updatedAtStr,
		&endedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning chat: %w", err)
	}

	chat.AgentID = agentID.String
	if chat.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if chat.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if endedAtStr.Valid {
		t, err := parseTime(endedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		chat.EndedAt = &t
	}

	return &chat, nil
}

// AppendMessage inserts a message after verifying the chat is still active.
// The status check and insert run in one transaction so a concurrent close
// cannot slip a message into a closed chat.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM chats WHERE id = ?`, msg.ChatID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying chat status: %w", err)
	}
	if ChatStatus(status) != ChatStatusActive {
		return ErrChatClosed
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, sender_type, text, file_url, file_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ChatID,
		msg.SenderID,
		string(msg.SenderType),
		msg.Text,
		nullableString(msg.FileURL),
		nullableString(msg.FileType),
		msg.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UTC().Format(timeFormat), msg.ChatID)
	if err != nil {
		return fmt.Errorf("touching chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "chat_id", msg.ChatID, "sender_type", msg.SenderType)
	return nil
}

// MarkMessageRead sets read_at if unset and returns the message.
// Returns ErrNotFound for an unknown message ID.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, messageID string, readAt time.Time) (*Message, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL`,
		readAt.UTC().Format(timeFormat), messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("marking message read: %w", err)
	}

	return s.getMessage(ctx, messageID)
}

func (s *SQLiteStore) getMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, sender_type, text, file_url, file_type, created_at, read_at
		FROM messages
		WHERE id = ?
	`, id)
	return scanMessage(row)
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var fileURL, fileType, readAtStr sql.NullString
	var createdAtStr string

	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.SenderType,
		&msg.Text,
		&fileURL,
		&fileType,
		&createdAtStr,
		&readAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.FileURL = fileURL.String
	msg.FileType = fileType.String
	if msg.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if readAtStr.Valid {
		t, err := parseTime(readAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing read_at: %w", err)
		}
		msg.ReadAt = &t
	}

	return &msg, nil
}

// ListMessages returns a page of a chat's messages. The page is selected
// newest-first so offset 0 always holds the latest messages, then reversed
// to chronological order before return.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, sender_type, text, file_url, file_type, created_at, read_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// CloseChat transitions a chat to closed and decrements the assigned agent's
// load counter in the same transaction, keeping the load invariant intact.
// Closing an already-closed chat is a no-op and returns the chat as-is.
func (s *SQLiteStore) CloseChat(ctx context.Context, chatID string) (*Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	chat, err := scanChat(tx.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, status, created_at, updated_at, ended_at
		FROM chats
		WHERE id = ?
	`, chatID))
	if err != nil {
		return nil, err
	}

	if chat.Status == ChatStatusClosed {
		return chat, nil
	}

	now := time.Now().UTC()
	nowStr := now.Format(timeFormat)
	_, err = tx.ExecContext(ctx,
		`UPDATE chats SET status = 'closed', ended_at = ?, updated_at = ? WHERE id = ?`,
		nowStr, nowStr, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("closing chat: %w", err)
	}

	if chat.AgentID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE agent_presence
			SET current_chat_count = MAX(current_chat_count - 1, 0)
			WHERE agent_id = ?
		`, chat.AgentID)
		if err != nil {
			return nil, fmt.Errorf("releasing agent load: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing close: %w", err)
	}

	chat.Status = ChatStatusClosed
	chat.EndedAt = &now
	chat.UpdatedAt = now

	s.logger.Debug("closed chat", "id", chatID, "agent_id", chat.AgentID)
	return chat, nil
}

// ListUserChats returns a user's chats, most recently updated first, each
// annotated with its unread agent-message count and last message preview.
func (s *SQLiteStore) ListUserChats(ctx context.Context, userID string, limit int) ([]*ChatSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.agent_id, c.status, c.created_at, c.updated_at, c.ended_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.chat_id = c.id AND m.sender_type = 'agent' AND m.read_at IS NULL),
			(SELECT m.text FROM messages m
				WHERE m.chat_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1),
			(SELECT m.created_at FROM messages m
				WHERE m.chat_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
		FROM chats c
		WHERE c.user_id = ?
		ORDER BY c.updated_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying user chats: %w", err)
	}
	defer rows.Close()

	var summaries []*ChatSummary
	for rows.Next() {
		var sum ChatSummary
		var agentID, endedAtStr, preview, lastAtStr sql.NullString
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(
			&sum.ID,
			&sum.UserID,
			&agentID,
			&sum.Status,
			&createdAtStr,
			&updatedAtStr,
			&endedAtStr,
			&sum.UnreadCount,
			&preview,
			&lastAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning chat summary: %w", err)
		}

		sum.AgentID = agentID.String
		sum.LastMessage = preview.String
		if sum.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sum.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		if endedAtStr.Valid {
			t, err := parseTime(endedAtStr.String)
			if err != nil {
				return nil, fmt.Errorf("parsing ended_at: %w", err)
			}
			sum.EndedAt = &t
		}
		if lastAtStr.Valid {
			t, err := parseTime(lastAtStr.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last message time: %w", err)
			}
			sum.LastMessageAt = &t
		}

		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}

	return summaries, nil
}

// UnreadCountForUser counts unread agent-sent messages across all of the
// user's chats.
func (s *SQLiteStore) UnreadCountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN chats c ON c.id = m.chat_id
		WHERE c.user_id = ? AND m.sender_type = 'agent' AND m.read_at IS NULL
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// UpsertAgentStatus creates or updates an agent's presence row.
// The load counter is preserved on update.
func (s *SQLiteStore) UpsertAgentStatus(ctx context.Context, agentID string, status AgentStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_presence (agent_id, status, last_active_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			last_active_at = excluded.last_active_at
	`, agentID, string(status), at.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("upserting agent status: %w", err)
	}

	s.logger.Debug("agent status updated", "agent_id", agentID, "status", status)
	return nil
}

// GetAgentPresence retrieves one agent's presence row.
// Returns ErrNotFound if the agent has never reported a status.
func (s *SQLiteStore) GetAgentPresence(ctx context.Context, agentID string) (*AgentPresence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, status, last_active_at, current_chat_count
		FROM agent_presence
		WHERE agent_id = ?
	`, agentID)
	return scanPresence(row)
}

func scanPresence(row rowScanner) (*AgentPresence, error) {
	var p AgentPresence
	var lastActiveStr string

	err := row.Scan(&p.AgentID, &p.Status, &lastActiveStr, &p.CurrentChatCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning presence: %w", err)
	}

	if p.LastActiveAt, err = parseTime(lastActiveStr); err != nil {
		return nil, fmt.Errorf("parsing last_active_at: %w", err)
	}
	return &p, nil
}

// ListAgentPresence returns all presence rows, least loaded first.
func (s *SQLiteStore) ListAgentPresence(ctx context.Context) ([]*AgentPresence, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		presences = append(presences, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presence rows: %w", err)
	}
	return presences, nil
}

// SelectAndAssignAgent picks the least-loaded eligible agent and increments
// its load in one statement. The single UPDATE ... RETURNING removes the
// window where two concurrent assignments could pick the same agent.
func (s *SQLiteStore) SelectAndAssignAgent(ctx context.Context) (string, error) {
	var agentID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE agent_presence
		SET current_chat_count = current_chat_count + 1
		WHERE agent_id = (
			SELECT agent_id FROM agent_presence
			WHERE status IN ('online', 'away')
			ORDER BY current_chat_count ASC, last_active_at ASC
			LIMIT 1
		)
		RETURNING agent_id
	`).Scan(&agentID)
	if err == sql.ErrNoRows {
		return "", ErrNoAgentAvailable
	}
	if err != nil {
		return "", fmt.Errorf("assigning agent: %w", err)
	}

	s.logger.Debug("assigned agent", "agent_id", agentID)
	return agentID, nil
}

// ReleaseAgent decrements an agent's load counter, flooring at zero.
// Unknown agents are a no-op.
func (s *SQLiteStore) ReleaseAgent(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_presence
		SET current_chat_count = MAX(current_chat_count - 1, 0)
		WHERE agent_id = ?
	`, agentID)
	if err != nil {
		return fmt.Errorf("releasing agent: %w", err)
	}
	return nil
}

// ActiveChatCount counts active chats assigned to the agent.
func (s *SQLiteStore) ActiveChatCount(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chats WHERE agent_id = ? AND status = 'active'
	`, agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active chats: %w", err)
	}
	return count, nil
}

// parseTime parses a stored timestamp, accepting both the fixed-width
// format written by this store and plain RFC 3339.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(timeFormat, s)
}

// nullableString maps "" to NULL for optional text columns.
func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
