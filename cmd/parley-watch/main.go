// ABOUTME: Entry point for parley-watch, a terminal client that follows a user's conversation list
// ABOUTME: Logs in, loads the snapshot and keeps it synchronized over NATS or Redis until interrupted

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/client"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/convsync"
	"github.com/2389/parley/internal/pubsub"
)

const banner = `
    ╭─────────────────────────╮
    │   parley  ·  watch      │
    ╰─────────────────────────╯
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", getConfigPath(), "path to watch.toml")
	openID := flag.String("open", "", "conversation ID to treat as open")
	flag.Parse()

	color.New(color.FgCyan).Print(banner)

	cfg, err := Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channel, err := dialBroker(ctx, cfg.Broker, logger)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer channel.Close()

	w := &watcher{
		api:     client.New(cfg.Gateway.URL),
		channel: channel,
		out:     os.Stdout,
		logger:  logger,
	}
	if err := w.start(ctx, cfg.Gateway.Email, cfg.Gateway.Password, *openID); err != nil {
		return err
	}
	defer w.stop()

	<-ctx.Done()
	fmt.Println()
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return level
}

// brokerChannel is what the watcher needs from a broker backend.
type brokerChannel interface {
	pubsub.Channel
	Close() error
}

func dialBroker(ctx context.Context, cfg BrokerConfig, logger *slog.Logger) (brokerChannel, error) {
	switch cfg.Kind {
	case "nats":
		return pubsub.DialNATS(pubsub.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          "parley-watch",
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, logger)
	case "redis":
		return pubsub.DialRedis(ctx, pubsub.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported broker kind %q", cfg.Kind)
	}
}

// watcher ties the API client, session and synchronizer together.
type watcher struct {
	api     *client.Client
	channel pubsub.Channel
	out     io.Writer
	logger  *slog.Logger

	mu      sync.Mutex // serializes writes to out
	session *auth.Session
	syncer  *convsync.Synchronizer
	self    string
}

// start logs in, loads the snapshot and activates synchronization.
func (w *watcher) start(ctx context.Context, email, password, openID string) error {
	user, err := w.api.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	w.self = user.Email

	snapshot, err := w.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	w.session = auth.NewSession()
	w.session.Set(w.api.Token(), user.Email)

	w.syncer = convsync.New(snapshot, w.channel, w.session, w, w.logger)
	w.syncer.SetOpenConversation(openID)
	w.syncer.OnChange(w.render)

	if err := w.syncer.Activate(ctx); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	w.render(w.syncer.List())
	return nil
}

// stop releases the subscription and forgets the session.
func (w *watcher) stop() {
	if w.syncer == nil {
		return
	}
	if err := w.syncer.Deactivate(); err != nil {
		w.logger.Warn("deactivating", "error", err)
	}
	w.session.Clear()
}

func (w *watcher) render(list conversation.List) {
	w.mu.Lock()
	defer w.mu.Unlock()
	renderList(w.out, list, w.self, w.syncer.OpenConversation())
}

// Navigate implements convsync.Router for a terminal: the open
// conversation is closed and the move is reported.
func (w *watcher) Navigate(path string) {
	w.syncer.SetOpenConversation("")
	w.mu.Lock()
	defer w.mu.Unlock()
	color.New(color.FgYellow).Fprintf(w.out, "→ open conversation was removed, back to %s\n", path)
}
