// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - User: registered account; Email is the user's pub/sub routing key
//   - Conversation: direct or group conversation with a last activity time
//   - Message: a chat message inside a conversation
//   - ConversationView: a conversation joined with members and recent messages
//
// # Implementations
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo). The schema is created
// on open, WAL mode is enabled and foreign keys cascade conversation deletes
// to members and messages. Timestamps are stored as fixed-width UTC strings
// so ORDER BY on them matches chronological order.
//
// MockStore is an in-memory implementation used by service and gateway tests.
// Setting Err (or calling Fail) makes every method return an error.
//
// # Snapshots
//
// ListConversationsForUser is the source of a client's initial conversation
// list: the user's conversations ordered by last_message_at, then created_at,
// newest first, each carrying its most recent messages.
package store
