// ABOUTME: EventChannel and Publisher contracts shared by every pub/sub backend
// ABOUTME: Defines conversation event names, handler bindings and the JSON wire envelope

package pubsub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Conversation event names pushed to a user's routing key.
const (
	EventConversationNew    = "conversation:new"
	EventConversationUpdate = "conversation:update"
	EventConversationRemove = "conversation:remove"
)

// ErrClosed is returned when a channel or subscription has been shut down.
var ErrClosed = errors.New("pubsub: closed")

// ErrEmptyKey is returned when subscribing or publishing without a routing key.
var ErrEmptyKey = errors.New("pubsub: empty routing key")

// Handler receives the raw JSON payload of one event.
type Handler func(payload []byte)

// BindingID identifies a single Bind call so it can be undone with Unbind.
// The zero value never identifies a live binding.
type BindingID uint64

// Channel delivers named events addressed to a routing key.
type Channel interface {
	// Subscribe opens a subscription for key. Handlers bound to the returned
	// subscription receive events published to key until Unsubscribe. ctx
	// bounds the subscribe call only; cancelling it later does not end the
	// subscription.
	Subscribe(ctx context.Context, key string) (Subscription, error)
}

// Subscription is an open subscription to one routing key.
type Subscription interface {
	Key() string
	// Bind registers h for event and returns the binding's ID.
	Bind(event string, h Handler) BindingID
	// Unbind removes a binding. Unknown IDs are ignored.
	Unbind(event string, id BindingID)
	// Unsubscribe releases the subscription and drops every binding. No new
	// dispatch starts after it returns; one already running may finish.
	// Calling it more than once is safe.
	Unsubscribe() error
}

// Publisher sends events to everyone subscribed to a routing key.
type Publisher interface {
	Publish(ctx context.Context, key, event string, payload any) error
}

// Broker is a backend that both publishes and delivers.
type Broker interface {
	Channel
	Publisher
	Close() error
}

// Envelope is the wire format used by broker-backed channels. ID is unique per
// publish so redeliveries of the same envelope can be recognized.
type Envelope struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope wraps payload for event. Byte slices and json.RawMessage are
// taken as already-encoded JSON; anything else is marshaled.
func NewEnvelope(event string, payload any) (Envelope, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = json.RawMessage(p)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshaling %s payload: %w", event, err)
		}
		data = b
	}
	return Envelope{
		ID:    uuid.New().String(),
		Event: event,
		Data:  data,
	}, nil
}

// Encode returns the JSON form of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a wire message. Envelopes without an event name are
// rejected.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errors.New("decoding envelope: missing event name")
	}
	return env, nil
}

// encodeKey turns a routing key (typically an email address) into a token
// that is safe inside NATS subjects and Redis channel names.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}
