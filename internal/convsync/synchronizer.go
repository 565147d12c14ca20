// ABOUTME: Synchronizer keeps a user's conversation list consistent with pushed events
// ABOUTME: Owns the {Unbound, Bound(key)} subscription state machine and the three event handlers

package convsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/pubsub"
)

// ConversationsPath is the neutral route the Router is sent to when the open
// conversation is removed.
const ConversationsPath = "/conversations"

// KeyProvider yields the routing key of the authenticated user and reports
// when it changes.
type KeyProvider interface {
	CurrentKey() (string, bool)
	// OnChange registers fn to run after the key changes. fn must be
	// called with no provider lock held.
	OnChange(fn func())
}

// Router performs navigation side effects for the active view.
type Router interface {
	Navigate(path string)
}

// binding is the set of handlers bound to one subscription.
type binding struct {
	key     string
	sub     pubsub.Subscription
	created pubsub.BindingID
	updated pubsub.BindingID
	removed pubsub.BindingID
}

// release unbinds every handler and then closes the subscription.
func (b *binding) release() error {
	b.sub.Unbind(pubsub.EventConversationNew, b.created)
	b.sub.Unbind(pubsub.EventConversationUpdate, b.updated)
	b.sub.Unbind(pubsub.EventConversationRemove, b.removed)
	if err := b.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribing %s: %w", b.key, err)
	}
	return nil
}

// Synchronizer maintains the ordered conversation list of the current user.
//
// Handlers run on whatever goroutine the channel delivers on; they are
// serialized with List and the lifecycle methods by an internal mutex. Render
// and navigation callbacks are invoked with no lock held, so they may call
// back into the Synchronizer.
type Synchronizer struct {
	channel pubsub.Channel
	keys    KeyProvider
	router  Router
	logger  *slog.Logger

	// lifecycle serializes Activate, Refresh and Deactivate and guards active.
	lifecycle sync.Mutex
	active    bool

	mu       sync.Mutex
	list     conversation.List
	openID   string
	bound    *binding
	gen      uint64 // bumped whenever bound changes; stale handlers compare against it
	onChange func(conversation.List)
}

// New creates an Unbound synchronizer seeded with snapshot. Duplicate IDs in
// the snapshot are collapsed to their first occurrence. router may be nil.
func New(snapshot conversation.List, channel pubsub.Channel, keys KeyProvider, router Router, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		channel: channel,
		keys:    keys,
		router:  router,
		logger:  logger.With("component", "convsync"),
		list:    conversation.Dedupe(snapshot.Clone()),
	}
	keys.OnChange(s.keyChanged)
	return s
}

// keyChanged re-evaluates the routing key after the provider reports a
// change. It does nothing unless the synchronizer is active.
func (s *Synchronizer) keyChanged() {
	if err := s.Refresh(context.Background()); err != nil {
		s.logger.Warn("resubscribing after key change", "error", err)
	}
}

// List returns a copy of the current list, safe to hold while events arrive.
func (s *Synchronizer) List() conversation.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.Clone()
}

// Key returns the routing key of the active subscription, if any.
func (s *Synchronizer) Key() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return "", false
	}
	return s.bound.key, true
}

// SetOpenConversation records the conversation the active view displays. An
// empty id means none is open.
func (s *Synchronizer) SetOpenConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openID = id
}

// OpenConversation returns the id recorded by SetOpenConversation.
func (s *Synchronizer) OpenConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

// OnChange registers fn to be called with a copy of the list after every
// event that changed it. A later call replaces the previous callback.
func (s *Synchronizer) OnChange(fn func(conversation.List)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Activate binds the synchronizer to the current routing key. Without a key
// it stays Unbound and returns nil; it binds by itself once the KeyProvider
// reports a key. ctx bounds only the subscribe call, not the subscription.
func (s *Synchronizer) Activate(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.active = true
	return s.refreshLocked(ctx)
}

// Refresh re-evaluates the routing key. The same key keeps the existing
// subscription. A different key releases the old binding before subscribing
// again. A missing key releases any binding and leaves the synchronizer
// Unbound. Refresh does nothing before Activate or after Deactivate.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.active {
		return nil
	}
	return s.refreshLocked(ctx)
}

func (s *Synchronizer) refreshLocked(ctx context.Context) error {
	key, ok := s.keys.CurrentKey()
	if ok && key == "" {
		ok = false
	}

	s.mu.Lock()
	if ok && s.bound != nil && s.bound.key == key {
		s.mu.Unlock()
		return nil
	}
	old := s.detachLocked()
	s.mu.Unlock()

	if old != nil {
		if err := old.release(); err != nil {
			s.logger.Warn("releasing subscription", "key", old.key, "error", err)
		}
		s.logger.Debug("unbound", "key", old.key)
	}

	if !ok {
		s.logger.Debug("no routing key, staying unbound")
		return nil
	}

	sub, err := s.channel.Subscribe(ctx, key)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", key, err)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.bound = &binding{
		key:     key,
		sub:     sub,
		created: sub.Bind(pubsub.EventConversationNew, s.guard(gen, pubsub.EventConversationNew, s.onCreated)),
		updated: sub.Bind(pubsub.EventConversationUpdate, s.guard(gen, pubsub.EventConversationUpdate, s.onUpdated)),
		removed: sub.Bind(pubsub.EventConversationRemove, s.guard(gen, pubsub.EventConversationRemove, s.onRemoved)),
	}
	s.mu.Unlock()

	s.logger.Info("bound", "key", key)
	return nil
}

// Deactivate unbinds the handlers, then closes the subscription. No handler
// runs after it returns. Calling it while Unbound does nothing.
func (s *Synchronizer) Deactivate() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.active = false

	s.mu.Lock()
	old := s.detachLocked()
	s.mu.Unlock()

	if old == nil {
		return nil
	}
	s.logger.Debug("deactivating", "key", old.key)
	return old.release()
}

// detachLocked moves the synchronizer to Unbound and returns the binding that
// must be released. Handlers bound under the previous generation become inert.
func (s *Synchronizer) detachLocked() *binding {
	old := s.bound
	if old == nil {
		return nil
	}
	s.bound = nil
	s.gen++
	return old
}

// mutation is the result of applying one event to the list.
type mutation struct {
	changed  bool
	navigate bool
}

// guard wraps an event handler so it decodes the payload, runs under the lock
// only while gen is current, and fires callbacks after unlocking.
func (s *Synchronizer) guard(gen uint64, event string, apply func(conversation.Summary) mutation) pubsub.Handler {
	return func(payload []byte) {
		var c conversation.Summary
		if err := json.Unmarshal(payload, &c); err != nil {
			s.logger.Info("dropping malformed event", "event", event, "error", err)
			return
		}
		if !c.Valid() {
			s.logger.Info("dropping event without conversation id", "event", event)
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		m := apply(c)
		var (
			snapshot conversation.List
			notify   func(conversation.List)
		)
		if m.changed && s.onChange != nil {
			snapshot = s.list.Clone()
			notify = s.onChange
		}
		s.mu.Unlock()

		if notify != nil {
			notify(snapshot)
		}
		if m.navigate {
			s.navigate()
		}
	}
}

// onCreated inserts c at the front unless it is already present.
func (s *Synchronizer) onCreated(c conversation.Summary) mutation {
	next, changed := conversation.Prepend(s.list, c)
	s.list = next
	if !changed {
		s.logger.Debug("conversation already listed", "conversation_id", c.ID)
	}
	return mutation{changed: changed}
}

// onUpdated replaces the messages of the matching entry.
func (s *Synchronizer) onUpdated(c conversation.Summary) mutation {
	next, changed := conversation.MergeMessages(s.list, c)
	s.list = next
	if !changed {
		s.logger.Debug("update for unknown conversation", "conversation_id", c.ID)
	}
	return mutation{changed: changed}
}

// onRemoved drops the matching entry and leaves the open conversation if it
// was the one removed.
func (s *Synchronizer) onRemoved(c conversation.Summary) mutation {
	next, changed := conversation.Remove(s.list, c.ID)
	s.list = next
	return mutation{
		changed:  changed,
		navigate: s.openID != "" && s.openID == c.ID,
	}
}

// navigate sends the router to the conversations index. A failing router
// never affects list state.
func (s *Synchronizer) navigate() {
	if s.router == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("router panicked during navigation", "path", ConversationsPath, "panic", r)
		}
	}()
	s.router.Navigate(ConversationsPath)
}
