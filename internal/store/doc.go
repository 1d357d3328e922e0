// Package store provides persistent storage for chat sessions and agent
// presence.
//
// # Architecture
//
// Two focused interfaces cover the gateway's storage needs:
//
//   - SessionStore: Chats, message history, read receipts, unread counts
//   - PresenceStore: Agent availability and chat-load tracking
//
// Store composes both plus Close. There are two implementations:
//
//   - SQLiteStore: Single-instance deployments and tests (modernc.org/sqlite)
//   - PostgresStore: Multi-instance deployments sharing one database (pgx)
//
// # Data Models
//
//   - Chat: A support conversation between one user and at most one agent
//   - Message: Text or file message with sender attribution and read state
//   - ChatSummary: Chat plus unread count and last-message preview
//   - AgentPresence: Agent status and current assigned-chat count
//
// # Agent Assignment
//
// SelectAndAssignAgent picks the eligible agent (online or away) with the
// fewest active chats and increments its counter in a single statement, so
// concurrent chat creation never double-assigns capacity. CloseChat
// decrements the counter in the same transaction that closes the chat.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrChatClosed: Write attempted against a closed chat
//   - ErrNoAgentAvailable: No agent is online or away
//
// All methods accept context.Context for cancellation support.
//
// # SQLite Configuration
//
// The SQLite store uses WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests with a real database.
package store
