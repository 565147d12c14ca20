// ABOUTME: In-process broker fanning out conversation events to subscribers of a routing key
// ABOUTME: Each subscription drains a buffered queue on its own goroutine; slow subscribers drop events

package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the queue depth of each in-process subscription.
const subscriberBufferSize = 64

// Broadcaster is an in-memory Broker. Subscribers register for a routing key
// and receive every event published to it while subscribed.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*memorySubscription // key -> subID -> sub
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]*memorySubscription),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscription for key. It stays open until
// Unsubscribe or Close.
func (b *Broadcaster) Subscribe(_ context.Context, key string) (Subscription, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	sub := &memorySubscription{
		id:     uuid.New().String(),
		key:    key,
		queue:  make(chan Envelope, subscriberBufferSize),
		done:   make(chan struct{}),
		table:  newBindingTable(nil, b.logger),
		broker: b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]*memorySubscription)
	}
	b.subscribers[key][sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", sub.id)

	go sub.run()

	return sub, nil
}

// Publish delivers an event to every subscription of key. It never blocks:
// a subscription whose queue is full misses the event.
func (b *Broadcaster) Publish(_ context.Context, key, event string, payload any) error {
	if key == "" {
		return ErrEmptyKey
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := b.subscribers[key]
	targets := make([]*memorySubscription, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(env)
	}
	return nil
}

// SubscriberCount returns the number of open subscriptions for key.
func (b *Broadcaster) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// remove forgets a subscription. Empty key entries are dropped.
func (b *Broadcaster) remove(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}
}

// Close shuts down the broadcaster and every open subscription.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySubscription
	for _, subs := range b.subscribers {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		_ = s.Unsubscribe()
	}
	b.logger.Debug("broadcaster closed")
	return nil
}

type memorySubscription struct {
	id     string
	key    string
	queue  chan Envelope
	done   chan struct{}
	once   sync.Once
	table  *bindingTable
	broker *Broadcaster
}

func (s *memorySubscription) Key() string { return s.key }

func (s *memorySubscription) Bind(event string, h Handler) BindingID {
	return s.table.bind(event, h)
}

func (s *memorySubscription) Unbind(event string, id BindingID) {
	s.table.unbind(event, id)
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.table.close()
		s.broker.remove(s.key, s.id)
		close(s.done)
		s.broker.logger.Debug("subscriber removed", "key", s.key, "sub_id", s.id)
	})
	return nil
}

func (s *memorySubscription) enqueue(env Envelope) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- env:
	default:
		s.broker.logger.Debug("dropped event for slow subscriber",
			"key", s.key,
			"event", env.Event,
			"envelope_id", env.ID)
	}
}

func (s *memorySubscription) run() {
	for {
		select {
		case env := <-s.queue:
			s.table.dispatch(env)
		case <-s.done:
			return
		}
	}
}
