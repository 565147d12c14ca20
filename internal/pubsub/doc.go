// Package pubsub carries conversation events from the gateway to connected
// clients.
//
// # Contracts
//
// A Channel hands out Subscriptions for a routing key (the user's email). Handlers
// are bound per event name and identified by the BindingID returned from Bind,
// because Go funcs cannot be compared:
//
//	sub, err := ch.Subscribe(ctx, "alice@example.com")
//	id := sub.Bind(pubsub.EventConversationNew, func(payload []byte) { ... })
//	...
//	sub.Unbind(pubsub.EventConversationNew, id)
//	sub.Unsubscribe()
//
// A Publisher sends an event to every subscription of a key. A Broker is both.
//
// # Backends
//
//   - Broadcaster: in-process fan-out, used by the gateway when no external broker
//     is configured and by tests.
//   - NATSChannel: one core NATS subject per key.
//   - RedisChannel: one Redis PUBLISH/SUBSCRIBE channel per key.
//
// Broker-backed channels exchange JSON Envelopes. Each envelope carries a unique ID
// and every subscription drops IDs it has already dispatched, so a redelivered
// envelope reaches handlers once. Delivery stays at-most-once per subscription and
// unordered across keys; consumers must tolerate duplicates and gaps.
package pubsub
