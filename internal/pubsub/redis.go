// ABOUTME: Redis pub/sub Broker publishing JSON envelopes on one channel per routing key
// ABOUTME: Each subscription runs a receive loop that decodes, dedupes and dispatches envelopes

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/parley/internal/dedupe"
)

// RedisConfig configures a Redis connection used for pub/sub.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string // defaults to "parley"
	DedupeTTL     time.Duration
	DedupeSize    int
}

// RedisChannel implements Broker on Redis PUBLISH/SUBSCRIBE.
type RedisChannel struct {
	rdb    *redis.Client
	owned  bool
	prefix string
	cfg    RedisConfig
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// DialRedis connects to Redis, verifies the connection with PING and returns
// a channel that owns the client.
func DialRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisChannel, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr missing")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	c := NewRedisChannel(rdb, cfg, logger)
	c.owned = true
	return c, nil
}

// NewRedisChannel wraps an existing client. The caller keeps ownership of rdb.
func NewRedisChannel(rdb *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisChannel {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "parley"
	}
	return &RedisChannel{
		rdb:    rdb,
		prefix: prefix,
		cfg:    cfg,
		logger: logger.With("component", "redis-channel"),
		subs:   make(map[*redisSubscription]struct{}),
	}
}

func (c *RedisChannel) channelName(key string) string {
	return c.prefix + ":user:" + encodeKey(key)
}

// Subscribe subscribes to the key's Redis channel and waits for the server's
// confirmation before returning.
func (c *RedisChannel) Subscribe(ctx context.Context, key string) (Subscription, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	ps := c.rdb.Subscribe(ctx, c.channelName(key))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", key, err)
	}

	seen := dedupe.New(c.cfg.DedupeTTL, c.cfg.DedupeSize)
	s := &redisSubscription{
		key:     key,
		ps:      ps,
		seen:    seen,
		table:   newBindingTable(seen, c.logger),
		channel: c,
	}
	c.subs[s] = struct{}{}
	go s.receive(ps.Channel())

	c.logger.Debug("subscribed", "key", key, "channel", c.channelName(key))
	return s, nil
}

// Publish sends one envelope to the key's channel.
func (c *RedisChannel) Publish(ctx context.Context, key, event string, payload any) error {
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
	if err := c.rdb.Publish(ctx, c.channelName(key), data).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", event, err)
	}
	return nil
}

// Close releases every subscription and, when the channel owns the client,
// closes it.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*redisSubscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if c.owned {
		return c.rdb.Close()
	}
	return nil
}

func (c *RedisChannel) forget(s *redisSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, s)
}

type redisSubscription struct {
	key     string
	ps      *redis.PubSub
	seen    *dedupe.Cache
	table   *bindingTable
	channel *RedisChannel
}

func (s *redisSubscription) Key() string { return s.key }

func (s *redisSubscription) Bind(event string, h Handler) BindingID {
	return s.table.bind(event, h)
}

func (s *redisSubscription) Unbind(event string, id BindingID) {
	s.table.unbind(event, id)
}

func (s *redisSubscription) Unsubscribe() error {
	if !s.table.close() {
		return nil
	}
	s.channel.forget(s)
	err := s.ps.Close()
	s.seen.Close()
	if err != nil {
		return fmt.Errorf("unsubscribing %s: %w", s.key, err)
	}
	return nil
}

// receive runs until the PubSub is closed, which closes msgs.
func (s *redisSubscription) receive(msgs <-chan *redis.Message) {
	for m := range msgs {
		env, err := DecodeEnvelope([]byte(m.Payload))
		if err != nil {
			s.channel.logger.Info("dropping malformed envelope", "channel", m.Channel, "error", err)
			continue
		}
		s.table.dispatch(env)
	}
}
