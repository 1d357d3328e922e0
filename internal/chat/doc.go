// Package chat implements the support-chat lifecycle: creation with agent
// assignment, message persistence, read receipts, history pagination, and
// closing.
//
// The service persists before anything is broadcast. Handlers call Send or
// MarkRead, get back the stored record with its server-assigned ID and
// timestamp, and only then fan the event out, so no client ever sees a
// message the database doesn't have.
package chat
