// ABOUTME: NATS-backed Broker publishing JSON envelopes on one subject per routing key
// ABOUTME: Subscriptions decode envelopes, drop redeliveries and dispatch to bound handlers

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/parley/internal/dedupe"
)

// NATSConfig configures a NATS connection.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string // defaults to "parley"
	ReconnectWait time.Duration
	Timeout       time.Duration
	DedupeTTL     time.Duration
	DedupeSize    int
}

// NATSChannel implements Broker on a NATS connection.
type NATSChannel struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	cfg    NATSConfig
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*natsSubscription]struct{}
	closed bool
}

// DialNATS connects to the configured server and returns a channel that owns
// the connection.
func DialNATS(cfg NATSConfig, logger *slog.Logger) (*NATSChannel, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "parley"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	c := NewNATSChannel(nc, cfg, logger)
	c.owned = true
	return c, nil
}

// NewNATSChannel wraps an existing connection. The caller keeps ownership of nc.
func NewNATSChannel(nc *nats.Conn, cfg NATSConfig, logger *slog.Logger) *NATSChannel {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "parley"
	}
	return &NATSChannel{
		nc:     nc,
		prefix: prefix,
		cfg:    cfg,
		logger: logger.With("component", "nats-channel"),
		subs:   make(map[*natsSubscription]struct{}),
	}
}

// subject returns the NATS subject carrying events for key.
func (c *NATSChannel) subject(key string) string {
	return strings.Join([]string{c.prefix, "user", encodeKey(key)}, ".")
}

// Subscribe opens a core NATS subscription on the key's subject.
func (c *NATSChannel) Subscribe(ctx context.Context, key string) (Subscription, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	seen := dedupe.New(c.cfg.DedupeTTL, c.cfg.DedupeSize)
	s := &natsSubscription{
		key:     key,
		seen:    seen,
		table:   newBindingTable(seen, c.logger),
		channel: c,
	}
	sub, err := c.nc.Subscribe(c.subject(key), func(m *nats.Msg) {
		env, err := DecodeEnvelope(m.Data)
		if err != nil {
			c.logger.Info("dropping malformed envelope", "subject", m.Subject, "error", err)
			return
		}
		s.table.dispatch(env)
	})
	if err != nil {
		seen.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", key, err)
	}
	s.sub = sub
	c.subs[s] = struct{}{}

	// Make sure the server knows about the interest before returning, so a
	// publish issued right after Subscribe is not missed.
	flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.nc.FlushWithContext(flushCtx); err != nil {
		c.logger.Debug("flush after subscribe failed", "key", key, "error", err)
	}

	c.logger.Debug("subscribed", "key", key, "subject", sub.Subject)
	return s, nil
}

// Publish sends one envelope to the key's subject.
func (c *NATSChannel) Publish(_ context.Context, key, event string, payload any) error {
	if key == "" {
		return ErrEmptyKey
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := c.nc.Publish(c.subject(key), data); err != nil {
		return fmt.Errorf("publishing %s: %w", event, err)
	}
	return nil
}

// Close releases every subscription and, when the channel owns the
// connection, drains it.
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*natsSubscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if c.owned {
		return c.nc.Drain()
	}
	return nil
}

func (c *NATSChannel) forget(s *natsSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, s)
}

type natsSubscription struct {
	key     string
	sub     *nats.Subscription
	seen    *dedupe.Cache
	table   *bindingTable
	channel *NATSChannel
}

func (s *natsSubscription) Key() string { return s.key }

func (s *natsSubscription) Bind(event string, h Handler) BindingID {
	return s.table.bind(event, h)
}

func (s *natsSubscription) Unbind(event string, id BindingID) {
	s.table.unbind(event, id)
}

func (s *natsSubscription) Unsubscribe() error {
	if !s.table.close() {
		return nil
	}
	s.channel.forget(s)
	s.seen.Close()
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("unsubscribing %s: %w", s.key, err)
	}
	return nil
}
