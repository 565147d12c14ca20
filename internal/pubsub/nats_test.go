// ABOUTME: Tests for the NATS-backed broker against an embedded NATS server
// ABOUTME: Covers delivery by key, malformed messages, unsubscribe and close

package pubsub

import (
	"testing"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNATS(t *testing.T) (*NATSChannel, *nats.Conn) {
	t.Helper()

	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)

	ch, err := DialNATS(NATSConfig{URL: srv.ClientURL(), Name: "parley-test"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	raw, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(raw.Close)

	return ch, raw
}

func TestNATSChannel_PublishSubscribe(t *testing.T) {
	ch, _ := newTestNATS(t)

	alice, err := ch.Subscribe(t.Context(), "alice@example.com")
	require.NoError(t, err)
	bob, err := ch.Subscribe(t.Context(), "bob@example.com")
	require.NoError(t, err)
	aliceCh := collect(alice, EventConversationNew)
	bobCh := collect(bob, EventConversationNew)

	require.NoError(t, ch.Publish(t.Context(), "alice@example.com", EventConversationNew, map[string]string{"id": "c1"}))

	assert.JSONEq(t, `{"id":"c1"}`, string(receive(t, aliceCh)))
	expectNothing(t, bobCh)
}

func TestNATSChannel_SubjectEncodesKey(t *testing.T) {
	ch, _ := newTestNATS(t)

	subject := ch.subject("alice.smith@example.com")
	assert.Equal(t, "parley.user."+encodeKey("alice.smith@example.com"), subject)
}

func TestNATSChannel_MalformedAndRedeliveredMessages(t *testing.T) {
	ch, raw := newTestNATS(t)

	sub, err := ch.Subscribe(t.Context(), "alice@example.com")
	require.NoError(t, err)
	got := collect(sub, EventConversationUpdate)

	subject := ch.subject("alice@example.com")
	require.NoError(t, raw.Publish(subject, []byte("garbage")))

	env, err := NewEnvelope(EventConversationUpdate, map[string]string{"id": "c1"})
	require.NoError(t, err)
	wire, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, raw.Publish(subject, wire))
	require.NoError(t, raw.Publish(subject, wire))
	require.NoError(t, raw.Flush())

	assert.JSONEq(t, `{"id":"c1"}`, string(receive(t, got)))
	expectNothing(t, got)
}

func TestNATSChannel_UnsubscribeStopsDelivery(t *testing.T) {
	ch, _ := newTestNATS(t)

	sub, err := ch.Subscribe(t.Context(), "alice@example.com")
	require.NoError(t, err)
	got := collect(sub, EventConversationRemove)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, ch.Publish(t.Context(), "alice@example.com", EventConversationRemove, "x"))
	expectNothing(t, got)
}

func TestNATSChannel_ClosedRejectsSubscribe(t *testing.T) {
	ch, _ := newTestNATS(t)
	require.NoError(t, ch.Close())

	_, err := ch.Subscribe(t.Context(), "alice@example.com")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialNATS_RequiresURL(t *testing.T) {
	_, err := DialNATS(NATSConfig{}, nil)
	assert.Error(t, err)
}
