// Package convsync keeps a client's conversation list consistent with the
// conversation events pushed to the signed-in user.
//
// # Lifecycle
//
// A Synchronizer starts Unbound with a snapshot loaded by the caller:
//
//	sync := convsync.New(snapshot, channel, session, router, logger)
//	if err := sync.Activate(ctx); err != nil { ... }
//	defer sync.Deactivate()
//
// Activate and Refresh read the routing key from the KeyProvider, and an
// active Synchronizer refreshes by itself whenever the provider reports a
// change. The same key keeps the current subscription. A new key releases the
// old one first (handlers are unbound before the subscription is closed). A
// missing key leaves the Synchronizer Unbound until a key arrives.
//
// # Events
//
//   - conversation:new inserts the summary at the front unless its ID is listed
//   - conversation:update replaces the messages of the matching entry in place
//   - conversation:remove drops the entry, navigating to ConversationsPath when
//     it was the open conversation
//
// Payloads that do not decode to a summary with an ID are logged and dropped.
// A conversation:new replayed after its conversation:remove re-inserts the
// entry; events carry no sequence numbers to detect that.
package convsync
