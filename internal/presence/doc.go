// Package presence tracks support-agent availability and assigns new chats
// to the least-loaded agent.
//
// Agents report one of four statuses: online, away, busy, offline. Online
// and away agents accept new chats; busy and offline ones do not. Assignment
// and release go through the store in single atomic statements, so the load
// counters stay correct under concurrent chat creation.
package presence
