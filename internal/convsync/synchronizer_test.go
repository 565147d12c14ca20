// ABOUTME: Tests for the conversation list Synchronizer
// ABOUTME: Covers merge semantics, navigation, subscription state transitions and teardown

package convsync

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/pubsub"
)

func newActiveSync(t *testing.T, snapshot conversation.List) (*Synchronizer, *fakeChannel, *fakeRouter) {
	t.Helper()
	ch := &fakeChannel{}
	router := &fakeRouter{}
	s := New(snapshot, ch, keysFor("alice@example.com"), router, nil)
	require.NoError(t, s.Activate(t.Context()))
	return s, ch, router
}

func TestSynchronizer_Scenario(t *testing.T) {
	a, b := summary("A", "hi"), summary("B", "yo")
	s, ch, router := newActiveSync(t, conversation.List{a, b})
	sub := ch.latest(t)
	s.SetOpenConversation("A")

	sub.emit(t, pubsub.EventConversationNew, summary("C"))
	assert.Equal(t, []string{"C", "A", "B"}, s.List().IDs())

	updated := summary("A", "hi", "new message")
	sub.emit(t, pubsub.EventConversationUpdate, updated)
	list := s.List()
	assert.Equal(t, []string{"C", "A", "B"}, list.IDs())
	assert.Equal(t, updated.Messages, list[1].Messages)

	sub.emit(t, pubsub.EventConversationRemove, summary("B"))
	assert.Equal(t, []string{"C", "A"}, s.List().IDs())
	assert.Empty(t, router.navigations())

	sub.emit(t, pubsub.EventConversationRemove, summary("A"))
	assert.Equal(t, []string{"C"}, s.List().IDs())
	assert.Equal(t, []string{ConversationsPath}, router.navigations())
}

func TestSynchronizer_CreatedNeverDuplicates(t *testing.T) {
	s, ch, _ := newActiveSync(t, conversation.List{summary("A"), summary("B")})
	sub := ch.latest(t)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		id := fmt.Sprintf("c%d", rng.IntN(10))
		sub.emit(t, pubsub.EventConversationNew, summary(id))
	}
	sub.emit(t, pubsub.EventConversationNew, summary("A"))

	ids := s.List().IDs()
	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, "B", ids[len(ids)-1])
	assert.Equal(t, "A", ids[len(ids)-2], "existing entry keeps its position")
}

func TestSynchronizer_CreatedDoesNotReplaceExistingEntry(t *testing.T) {
	original := summary("A", "first")
	s, ch, _ := newActiveSync(t, conversation.List{original})

	ch.latest(t).emit(t, pubsub.EventConversationNew, summary("A", "other"))

	assert.Equal(t, conversation.List{original}, s.List())
}

func TestSynchronizer_UpdatedForUnknownIDIsNoOp(t *testing.T) {
	snapshot := conversation.List{summary("A", "x"), summary("B", "y")}
	s, ch, _ := newActiveSync(t, snapshot)

	ch.latest(t).emit(t, pubsub.EventConversationUpdate, summary("Z", "ghost"))

	assert.Equal(t, snapshot, s.List())
}

func TestSynchronizer_UpdatedReplacesOnlyMessages(t *testing.T) {
	a, b, c := summary("A", "1"), summary("B", "2"), summary("C", "3")
	s, ch, _ := newActiveSync(t, conversation.List{a, b, c})

	incoming := summary("B", "2", "3", "4")
	incoming.Name = "renamed"
	incoming.IsGroup = true
	ch.latest(t).emit(t, pubsub.EventConversationUpdate, incoming)

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, a, list[0])
	assert.Equal(t, c, list[2])

	want := b
	want.Messages = incoming.Messages
	assert.Equal(t, want, list[1], "metadata and position are kept")
}

func TestSynchronizer_LastUpdateWins(t *testing.T) {
	s, ch, _ := newActiveSync(t, conversation.List{summary("A")})
	sub := ch.latest(t)

	sub.emit(t, pubsub.EventConversationUpdate, summary("A", "newer", "newest"))
	sub.emit(t, pubsub.EventConversationUpdate, summary("A", "older"))

	last, ok := s.List()[0].LastMessage()
	require.True(t, ok)
	assert.Equal(t, "older", last.Body)
}

func TestSynchronizer_RemovedNavigatesOnlyForOpenConversation(t *testing.T) {
	tests := []struct {
		name    string
		open    string
		removed string
		navs    int
	}{
		{"open conversation removed", "A", "A", 1},
		{"other conversation removed", "A", "B", 0},
		{"nothing open", "", "A", 0},
		{"open conversation not listed", "Z", "Z", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ch, router := newActiveSync(t, conversation.List{summary("A"), summary("B")})
			s.SetOpenConversation(tt.open)

			ch.latest(t).emit(t, pubsub.EventConversationRemove, summary(tt.removed))

			assert.Len(t, router.navigations(), tt.navs)
			assert.False(t, s.List().Contains(tt.removed))
		})
	}
}

func TestSynchronizer_RemovedUnknownIDIsNoOp(t *testing.T) {
	snapshot := conversation.List{summary("A"), summary("B")}
	s, ch, _ := newActiveSync(t, snapshot)

	ch.latest(t).emit(t, pubsub.EventConversationRemove, summary("Z"))

	assert.Equal(t, snapshot, s.List())
}

// Events carry no sequence numbers, so a late Created brings a removed
// conversation back.
func TestSynchronizer_StaleCreatedAfterRemoveResurrects(t *testing.T) {
	s, ch, _ := newActiveSync(t, conversation.List{summary("A"), summary("B")})
	sub := ch.latest(t)

	sub.emit(t, pubsub.EventConversationRemove, summary("A"))
	sub.emit(t, pubsub.EventConversationNew, summary("A"))

	assert.Equal(t, []string{"A", "B"}, s.List().IDs())
}

func TestSynchronizer_PanickingRouterDoesNotAffectList(t *testing.T) {
	ch := &fakeChannel{}
	router := &fakeRouter{panic: true}
	s := New(conversation.List{summary("A"), summary("B")}, ch, keysFor("alice@example.com"), router, nil)
	require.NoError(t, s.Activate(t.Context()))
	s.SetOpenConversation("A")

	assert.NotPanics(t, func() {
		ch.latest(t).emit(t, pubsub.EventConversationRemove, summary("A"))
	})
	assert.Equal(t, []string{"B"}, s.List().IDs())
	assert.Len(t, router.navigations(), 1)
}

func TestSynchronizer_NilRouter(t *testing.T) {
	ch := &fakeChannel{}
	s := New(conversation.List{summary("A")}, ch, keysFor("alice@example.com"), nil, nil)
	require.NoError(t, s.Activate(t.Context()))
	s.SetOpenConversation("A")

	ch.latest(t).emit(t, pubsub.EventConversationRemove, summary("A"))

	assert.Empty(t, s.List())
}

func TestSynchronizer_MalformedPayloadsAreDropped(t *testing.T) {
	snapshot := conversation.List{summary("A")}
	s, ch, router := newActiveSync(t, snapshot)
	s.SetOpenConversation("A")
	sub := ch.latest(t)

	for _, event := range []string{pubsub.EventConversationNew, pubsub.EventConversationUpdate, pubsub.EventConversationRemove} {
		sub.emit(t, event, []byte("not json"))
		sub.emit(t, event, []byte(`{"messages":[]}`))
		sub.emit(t, event, []byte(`"just a string"`))
	}

	assert.Equal(t, snapshot, s.List())
	assert.Empty(t, router.navigations())
}

func TestSynchronizer_ActivateTwiceWithSameKeyBindsOnce(t *testing.T) {
	s, ch, _ := newActiveSync(t, nil)
	require.NoError(t, s.Activate(t.Context()))
	require.NoError(t, s.Refresh(t.Context()))

	assert.Equal(t, 1, ch.subscribeCount())
	sub := ch.latest(t)
	assert.Equal(t, 3, sub.bindingCount())

	var changes atomic.Int32
	s.OnChange(func(conversation.List) { changes.Add(1) })
	sub.emit(t, pubsub.EventConversationNew, summary("C"))

	assert.Equal(t, int32(1), changes.Load())
	assert.Equal(t, []string{"C"}, s.List().IDs())
}

func TestSynchronizer_KeyChangeReleasesBeforeResubscribing(t *testing.T) {
	ch := &fakeChannel{}
	keys := keysFor("alice@example.com")
	s := New(nil, ch, keys, nil, nil)
	require.NoError(t, s.Activate(t.Context()))
	first := ch.latest(t)
	ch.resetLog()

	keys.set("bob@example.com")

	assert.Equal(t, []string{
		"unbind " + pubsub.EventConversationNew,
		"unbind " + pubsub.EventConversationUpdate,
		"unbind " + pubsub.EventConversationRemove,
		"unsubscribe alice@example.com",
		"subscribe bob@example.com",
		"bind " + pubsub.EventConversationNew,
		"bind " + pubsub.EventConversationUpdate,
		"bind " + pubsub.EventConversationRemove,
	}, ch.log())
	assert.True(t, first.unsubscribed)
	assert.Zero(t, first.bindingCount())

	key, ok := s.Key()
	assert.True(t, ok)
	assert.Equal(t, "bob@example.com", key)
}

func TestSynchronizer_MissingKeyStaysUnbound(t *testing.T) {
	ch := &fakeChannel{}
	keys := keysFor("")
	s := New(conversation.List{summary("A")}, ch, keys, nil, nil)

	require.NoError(t, s.Activate(t.Context()))
	assert.Zero(t, ch.subscribeCount())
	_, ok := s.Key()
	assert.False(t, ok)
	assert.Equal(t, []string{"A"}, s.List().IDs())

	keys.set("alice@example.com")
	assert.Equal(t, 1, ch.subscribeCount(), "binds once the key arrives")
	key, ok := s.Key()
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", key)
}

func TestSynchronizer_KeyLossReleasesSubscription(t *testing.T) {
	ch := &fakeChannel{}
	keys := keysFor("alice@example.com")
	s := New(nil, ch, keys, nil, nil)
	require.NoError(t, s.Activate(t.Context()))
	sub := ch.latest(t)

	keys.set("")

	assert.True(t, sub.unsubscribed)
	_, ok := s.Key()
	assert.False(t, ok)
}

func TestSynchronizer_SubscribeErrorLeavesUnbound(t *testing.T) {
	ch := &fakeChannel{subscribeErr: errBrokerDown}
	s := New(nil, ch, keysFor("alice@example.com"), nil, nil)

	err := s.Activate(t.Context())
	require.ErrorIs(t, err, errBrokerDown)
	_, ok := s.Key()
	assert.False(t, ok)

	ch.subscribeErr = nil
	require.NoError(t, s.Refresh(t.Context()))
	_, ok = s.Key()
	assert.True(t, ok)
}

func TestSynchronizer_DeactivateStopsHandlers(t *testing.T) {
	s, ch, router := newActiveSync(t, conversation.List{summary("A")})
	s.SetOpenConversation("A")
	sub := ch.latest(t)

	// Keep the handlers as a transport with in-flight deliveries would.
	created := sub.bound(pubsub.EventConversationNew)
	removed := sub.bound(pubsub.EventConversationRemove)
	require.Len(t, created, 1)
	require.Len(t, removed, 1)

	var changes atomic.Int32
	s.OnChange(func(conversation.List) { changes.Add(1) })

	require.NoError(t, s.Deactivate())
	assert.True(t, sub.unsubscribed)
	assert.Zero(t, sub.bindingCount())

	created[0](encode(t, summary("C")))
	removed[0](encode(t, summary("A")))

	assert.Equal(t, []string{"A"}, s.List().IDs())
	assert.Zero(t, changes.Load())
	assert.Empty(t, router.navigations())
}

func TestSynchronizer_DeactivateIsIdempotent(t *testing.T) {
	s, ch, _ := newActiveSync(t, nil)

	require.NoError(t, s.Deactivate())
	require.NoError(t, s.Deactivate())

	unsubscribes := 0
	for _, call := range ch.log() {
		if call == "unsubscribe alice@example.com" {
			unsubscribes++
		}
	}
	assert.Equal(t, 1, unsubscribes)

	fresh := New(nil, ch, keysFor(""), nil, nil)
	assert.NoError(t, fresh.Deactivate())
}

func TestSynchronizer_NavigationMayDeactivate(t *testing.T) {
	ch := &fakeChannel{}
	router := &fakeRouter{}
	s := New(conversation.List{summary("A")}, ch, keysFor("alice@example.com"), router, nil)
	require.NoError(t, s.Activate(t.Context()))
	s.SetOpenConversation("A")
	router.after = func() { _ = s.Deactivate() }

	done := make(chan struct{})
	go func() {
		ch.latest(t).emit(t, pubsub.EventConversationRemove, summary("A"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("navigation that deactivates deadlocked")
	}
	_, ok := s.Key()
	assert.False(t, ok)
}

func TestSynchronizer_SnapshotDuplicatesCollapse(t *testing.T) {
	s := New(conversation.List{summary("A", "first"), summary("B"), summary("A", "second")}, &fakeChannel{}, keysFor(""), nil, nil)

	list := s.List()
	assert.Equal(t, []string{"A", "B"}, list.IDs())
	assert.Equal(t, "first", list[0].Messages[0].Body)
}

func TestSynchronizer_ListIsACopy(t *testing.T) {
	snapshot := conversation.List{summary("A"), summary("B", "b1")}
	s, _, _ := newActiveSync(t, snapshot)

	list := s.List()
	list[0] = summary("X")
	list[1].Messages[0].Body = "mutated"
	snapshot[1] = summary("Y")

	got := s.List()
	assert.Equal(t, []string{"A", "B"}, got.IDs())
	assert.Equal(t, "b1", got[1].Messages[0].Body)
}

func TestSynchronizer_OnChangeReceivesCopy(t *testing.T) {
	s, ch, _ := newActiveSync(t, nil)

	var got []conversation.List
	s.OnChange(func(l conversation.List) {
		got = append(got, l)
		assert.Equal(t, l, s.List(), "callback may read the synchronizer")
	})

	sub := ch.latest(t)
	sub.emit(t, pubsub.EventConversationNew, summary("A"))
	sub.emit(t, pubsub.EventConversationNew, summary("A"))
	sub.emit(t, pubsub.EventConversationUpdate, summary("Z"))
	sub.emit(t, pubsub.EventConversationNew, summary("B"))

	require.Len(t, got, 2, "only changing events notify")
	assert.Equal(t, []string{"A"}, got[0].IDs())
	assert.Equal(t, []string{"B", "A"}, got[1].IDs())
}

func TestSynchronizer_ConcurrentEventsKeepIDsUnique(t *testing.T) {
	s, ch, _ := newActiveSync(t, nil)
	sub := ch.latest(t)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Go(func() {
			for i := range 50 {
				id := fmt.Sprintf("c%d", (w+i)%7)
				sub.emit(t, pubsub.EventConversationNew, summary(id))
				sub.emit(t, pubsub.EventConversationUpdate, summary(id, "tick"))
				if i%5 == 0 {
					sub.emit(t, pubsub.EventConversationRemove, summary(id))
				}
			}
		})
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range s.List().IDs() {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSynchronizer_OverInMemoryBroker(t *testing.T) {
	broker := pubsub.NewBroadcaster(nil)
	defer broker.Close()

	router := &fakeRouter{}
	s := New(conversation.List{summary("A"), summary("B")}, broker, keysFor("alice@example.com"), router, nil)
	require.NoError(t, s.Activate(t.Context()))
	defer s.Deactivate()
	s.SetOpenConversation("A")

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, "alice@example.com", pubsub.EventConversationNew, summary("C")))
	require.NoError(t, broker.Publish(ctx, "bob@example.com", pubsub.EventConversationNew, summary("D")))
	require.NoError(t, broker.Publish(ctx, "alice@example.com", pubsub.EventConversationRemove, summary("A")))

	assert.Eventually(t, func() bool {
		ids := s.List().IDs()
		return len(ids) == 2 && ids[0] == "C" && ids[1] == "B"
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(router.navigations()) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Deactivate())
	assert.Zero(t, broker.SubscriberCount("alice@example.com"))
}

func TestSynchronizer_BindsWhenSessionSignsInLater(t *testing.T) {
	broker := pubsub.NewBroadcaster(nil)
	defer broker.Close()
	session := auth.NewSession()

	s := New(conversation.List{summary("A")}, broker, session, nil, nil)
	require.NoError(t, s.Activate(t.Context()))
	defer s.Deactivate()
	_, ok := s.Key()
	require.False(t, ok)

	session.Set("token", "alice@example.com")

	key, ok := s.Key()
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", key)

	require.NoError(t, broker.Publish(context.Background(), "alice@example.com", pubsub.EventConversationNew, summary("C")))
	assert.Eventually(t, func() bool {
		ids := s.List().IDs()
		return len(ids) == 2 && ids[0] == "C"
	}, time.Second, 10*time.Millisecond)

	session.Clear()
	_, ok = s.Key()
	assert.False(t, ok)
	assert.Zero(t, broker.SubscriberCount("alice@example.com"))
}

func TestSynchronizer_KeyChangesIgnoredWhileInactive(t *testing.T) {
	ch := &fakeChannel{}
	keys := keysFor("")
	s := New(nil, ch, keys, nil, nil)

	keys.set("alice@example.com")
	assert.Zero(t, ch.subscribeCount(), "not activated yet")
	require.NoError(t, s.Refresh(t.Context()))
	assert.Zero(t, ch.subscribeCount())

	require.NoError(t, s.Activate(t.Context()))
	require.Equal(t, 1, ch.subscribeCount())
	require.NoError(t, s.Deactivate())

	keys.set("bob@example.com")
	assert.Equal(t, 1, ch.subscribeCount(), "deactivated")
	_, ok := s.Key()
	assert.False(t, ok)
}

func TestSynchronizer_SubscriptionOutlivesActivateContext(t *testing.T) {
	broker := pubsub.NewBroadcaster(nil)
	defer broker.Close()

	s := New(conversation.List{summary("A")}, broker, keysFor("alice@example.com"), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Activate(ctx))
	defer s.Deactivate()
	cancel()

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 1, broker.SubscriberCount("alice@example.com"))

	require.NoError(t, broker.Publish(context.Background(), "alice@example.com", pubsub.EventConversationNew, summary("C")))
	assert.Eventually(t, func() bool {
		ids := s.List().IDs()
		return len(ids) == 2 && ids[0] == "C" && ids[1] == "A"
	}, time.Second, 10*time.Millisecond)
}
