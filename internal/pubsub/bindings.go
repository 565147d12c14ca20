// ABOUTME: Per-subscription handler table shared by the memory, NATS and Redis backends
// ABOUTME: Dispatches envelopes to bound handlers and goes silent once closed

package pubsub

import (
	"log/slog"
	"sync"

	"github.com/2389/parley/internal/dedupe"
)

type binding struct {
	id      BindingID
	handler Handler
}

// bindingTable holds the handlers bound to one subscription. After close it
// accepts no bindings and dispatches nothing.
type bindingTable struct {
	mu       sync.RWMutex
	nextID   BindingID
	bindings map[string][]binding // event -> bindings in Bind order
	closed   bool

	seen   *dedupe.Cache // optional
	logger *slog.Logger
}

func newBindingTable(seen *dedupe.Cache, logger *slog.Logger) *bindingTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &bindingTable{
		bindings: make(map[string][]binding),
		seen:     seen,
		logger:   logger,
	}
}

func (t *bindingTable) bind(event string, h Handler) BindingID {
	if h == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}
	t.nextID++
	t.bindings[event] = append(t.bindings[event], binding{id: t.nextID, handler: h})
	return t.nextID
}

func (t *bindingTable) unbind(event string, id BindingID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.bindings[event]
	for i, b := range list {
		if b.id != id {
			continue
		}
		// Copy so a dispatch holding the old slice is unaffected.
		next := make([]binding, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(t.bindings, event)
		} else {
			t.bindings[event] = next
		}
		return
	}
}

// count returns the number of live bindings for event.
func (t *bindingTable) count(event string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bindings[event])
}

// dispatch delivers env to every handler bound to its event. Handlers run
// without the table lock held so they may bind or unbind.
func (t *bindingTable) dispatch(env Envelope) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return
	}

	if t.seen != nil && env.ID != "" && t.seen.Seen(env.ID) {
		t.logger.Debug("dropping redelivered envelope", "envelope_id", env.ID, "event", env.Event)
		return
	}

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return
	}
	targets := t.bindings[env.Event]
	t.mu.RUnlock()

	if len(targets) == 0 {
		t.logger.Debug("no handler bound", "event", env.Event)
		return
	}
	for _, b := range targets {
		if !t.isBound(env.Event, b.id) {
			continue
		}
		b.handler([]byte(env.Data))
	}
}

// isBound reports whether id is still bound and the table is open. It is
// rechecked per handler so an unbind issued by an earlier handler takes effect
// within the same dispatch.
func (t *bindingTable) isBound(event string, id BindingID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	for _, b := range t.bindings[event] {
		if b.id == id {
			return true
		}
	}
	return false
}

// close drops every binding. It reports whether this call closed the table.
func (t *bindingTable) close() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	t.bindings = make(map[string][]binding)
	return true
}
