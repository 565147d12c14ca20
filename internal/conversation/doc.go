// Package conversation defines the client-facing conversation model and the
// server-side service that writes it.
//
// # Summaries and Lists
//
// Summary is what a client renders for one conversation: ID, membership
// metadata and the most recent messages. List is an ordered []Summary with no
// duplicate IDs. The helpers Prepend, MergeMessages and Remove return new
// lists and never mutate their input, so a List handed to a renderer stays
// stable while events are applied.
//
// # Service
//
// Service sits between the HTTP API and the store:
//
//	svc := conversation.NewService(store, broker, logger)
//
//   - Create: direct conversations are reused; groups need a name and two other members
//   - SendMessage: stores the message, then pushes conversation:update
//   - Delete: members only, pushes conversation:remove
//   - Snapshot: the user's list, most recently active first
//
// Every event is published to each member's email after the write commits.
// Publish failures are logged; the store remains the source of truth and a
// client catches up from its next snapshot.
package conversation
