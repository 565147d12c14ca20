// ABOUTME: Test doubles for the Synchronizer's channel, key provider and router
// ABOUTME: The fake channel records subscribe/bind/unbind/unsubscribe calls in order

package convsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/pubsub"
)

type fakeChannel struct {
	mu           sync.Mutex
	calls        []string
	subs         []*fakeSubscription
	subscribeErr error
}

func (c *fakeChannel) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeChannel) log() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeChannel) resetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *fakeChannel) Subscribe(_ context.Context, key string) (pubsub.Subscription, error) {
	c.record("subscribe " + key)
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	sub := &fakeSubscription{
		key:      key,
		channel:  c,
		handlers: make(map[string]map[pubsub.BindingID]pubsub.Handler),
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub, nil
}

// latest returns the most recent subscription.
func (c *fakeChannel) latest(t *testing.T) *fakeSubscription {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		t.Fatal("no subscription opened")
	}
	return c.subs[len(c.subs)-1]
}

func (c *fakeChannel) subscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

type fakeSubscription struct {
	key     string
	channel *fakeChannel

	mu           sync.Mutex
	nextID       pubsub.BindingID
	handlers     map[string]map[pubsub.BindingID]pubsub.Handler
	unsubscribed bool
}

func (s *fakeSubscription) Key() string { return s.key }

func (s *fakeSubscription) Bind(event string, h pubsub.Handler) pubsub.BindingID {
	s.channel.record("bind " + event)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[pubsub.BindingID]pubsub.Handler)
	}
	s.handlers[event][s.nextID] = h
	return s.nextID
}

func (s *fakeSubscription) Unbind(event string, id pubsub.BindingID) {
	s.channel.record("unbind " + event)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers[event], id)
}

func (s *fakeSubscription) Unsubscribe() error {
	s.channel.record("unsubscribe " + s.key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	return nil
}

func (s *fakeSubscription) bound(event string) []pubsub.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pubsub.Handler, 0, len(s.handlers[event]))
	for _, h := range s.handlers[event] {
		out = append(out, h)
	}
	return out
}

func (s *fakeSubscription) bindingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, hs := range s.handlers {
		n += len(hs)
	}
	return n
}

// emit delivers payload to every handler bound to event, synchronously.
func (s *fakeSubscription) emit(t *testing.T, event string, payload any) {
	t.Helper()
	data := encode(t, payload)
	for _, h := range s.bound(event) {
		h(data)
	}
}

func encode(t *testing.T, payload any) []byte {
	t.Helper()
	if b, ok := payload.([]byte); ok {
		return b
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

type fakeKeys struct {
	mu        sync.Mutex
	key       string
	ok        bool
	listeners []func()
}

func keysFor(key string) *fakeKeys {
	return &fakeKeys{key: key, ok: key != ""}
}

func (k *fakeKeys) CurrentKey() (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key, k.ok
}

func (k *fakeKeys) OnChange(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.listeners = append(k.listeners, fn)
}

// set changes the key and runs the listeners, like a sign-in would.
func (k *fakeKeys) set(key string) {
	k.mu.Lock()
	k.key, k.ok = key, key != ""
	listeners := append([]func(){}, k.listeners...)
	k.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

type fakeRouter struct {
	mu    sync.Mutex
	paths []string
	panic bool
	after func()
}

func (r *fakeRouter) Navigate(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	after := r.after
	r.mu.Unlock()
	if after != nil {
		after()
	}
	if r.panic {
		panic("router exploded")
	}
}

func (r *fakeRouter) navigations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

var errBrokerDown = errors.New("broker down")

func summary(id string, bodies ...string) conversation.Summary {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := conversation.Summary{
		ID:        id,
		Name:      "conversation " + id,
		Members:   []conversation.Member{{ID: "u-" + id, Email: id + "@example.com", Name: id}},
		CreatedAt: created,
	}
	for i, body := range bodies {
		s.Messages = append(s.Messages, conversation.Message{
			ID:             fmt.Sprintf("%s-m%d", id, i),
			ConversationID: id,
			SenderID:       "u-" + id,
			Body:           body,
			CreatedAt:      created.Add(time.Duration(i) * time.Minute),
		})
	}
	return s
}
