// ABOUTME: Gateway orchestrator that wires store, broker, auth and the HTTP API
// ABOUTME: Manages the HTTP server lifecycle and graceful shutdown of every component

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/pubsub"
	"github.com/2389/parley/internal/store"
)

// Gateway orchestrates the parley-gateway server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	broker        pubsub.Broker
	conversations *conversation.Service
	verifier      *auth.JWTVerifier
	httpServer    *http.Server
	logger        *slog.Logger

	// serverID identifies this gateway instance in health output
	serverID string
}

// initStore creates the SQLite store. PARLEY_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initBroker connects the configured pub/sub backend.
func initBroker(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (pubsub.Broker, error) {
	switch cfg.Kind {
	case config.BrokerMemory, "":
		return pubsub.NewBroadcaster(logger), nil
	case config.BrokerNATS:
		ch, err := pubsub.DialNATS(pubsub.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ReconnectWait: cfg.NATS.ReconnectWait,
			DedupeTTL:     cfg.DedupeTTL,
			DedupeSize:    cfg.DedupeSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case config.BrokerRedis:
		ch, err := pubsub.DialRedis(ctx, pubsub.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
			DedupeTTL:     cfg.DedupeTTL,
			DedupeSize:    cfg.DedupeSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	broker, err := initBroker(context.Background(), cfg.Broker, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initializing broker: %w", err)
	}
	logger.Info("broker ready", "kind", cfg.Broker.Kind)

	return newGateway(cfg, s, broker, verifier, logger), nil
}

// newGateway assembles a gateway from already-initialized components.
func newGateway(cfg *config.Config, s store.Store, broker pubsub.Broker, verifier *auth.JWTVerifier, logger *slog.Logger) *Gateway {
	convService := conversation.NewService(s, broker, logger)
	convService.SetMessageLimit(cfg.Conversations.MessageLimit)

	gw := &Gateway{
		config:        cfg,
		store:         s,
		broker:        broker,
		conversations: convService,
		verifier:      verifier,
		logger:        logger.With("component", "gateway"),
		serverID:      generateServerID(),
	}

	mux := http.NewServeMux()

	// Health endpoint - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)

	gw.registerHTTPAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// registerHTTPAPIRoutes registers the public and authenticated API routes.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) {
	authMiddleware := auth.HTTPAuthMiddleware(g.store, g.verifier, g.logger)
	optionalAuth := auth.OptionalAuthMiddleware(g.store, g.verifier)

	mux.HandleFunc("POST /api/register", g.handleRegister)
	mux.HandleFunc("POST /api/login", g.handleLogin)

	mux.Handle("GET /api/me", authMiddleware(http.HandlerFunc(g.handleMe)))
	mux.Handle("GET /api/users", authMiddleware(http.HandlerFunc(g.handleListUsers)))
	mux.Handle("GET /api/conversations", authMiddleware(http.HandlerFunc(g.handleListConversations)))
	mux.Handle("POST /api/conversations", authMiddleware(http.HandlerFunc(g.handleCreateConversation)))
	mux.Handle("DELETE /api/conversations/{id}", authMiddleware(http.HandlerFunc(g.handleDeleteConversation)))
	mux.Handle("POST /api/conversations/{id}/messages", authMiddleware(http.HandlerFunc(g.handleSendMessage)))

	// Settings answers unauthenticated requests itself with a plain-text body.
	mux.Handle("POST /api/settings", optionalAuth(http.HandlerFunc(g.handleSettings)))
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until ctx is canceled or the server fails.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled or the server fails.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, then closes the broker and the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.broker != nil {
		if err := g.broker.Close(); err != nil && !errors.Is(err, pubsub.ErrClosed) {
			errs = append(errs, fmt.Errorf("broker close: %w", err))
		}
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK %s", g.serverID)
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("parley-gateway-%d", time.Now().UnixNano()%1000000)
}
