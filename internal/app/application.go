package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/internal/api"
	"github.com/haphu2512-java/ZaloForEdu/internal/auth"
	"github.com/haphu2512-java/ZaloForEdu/internal/config"
	"github.com/haphu2512-java/ZaloForEdu/internal/database"
	"github.com/haphu2512-java/ZaloForEdu/internal/hub"
	"github.com/haphu2512-java/ZaloForEdu/internal/presence"
	"github.com/haphu2512-java/ZaloForEdu/internal/router"
	"github.com/haphu2512-java/ZaloForEdu/internal/session"
	"github.com/haphu2512-java/ZaloForEdu/internal/websocket"
	dbconfig "github.com/haphu2512-java/ZaloForEdu/pkg/database"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
)

// cleanupInterval paces rate limiter housekeeping.
const cleanupInterval = 5 * time.Minute

// Application coordinates all system components.
// Initialization order: Database → Sessions → Auth → Registry → Router → Hub → API → HTTP
type Application struct {
	config     *config.Config
	log        *slog.Logger
	store      interfaces.DatabaseManager
	sessions   *session.Manager
	registry   *websocket.Registry
	limiter    *router.RateLimiter
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	errCh    chan error
}

// NewApplication builds every component from cfg. Nothing runs until Start.
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := cfg.DatabaseConfig()
	if err := ensureDataDir(dbConfig); err != nil {
		return nil, err
	}

	store, err := database.Open(dbConfig, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.VerificationTTL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	sessions := session.NewManager(store, store, cfg.Auth.RefreshTTL, log)
	authenticator := auth.NewAuthenticator(tokens, store)
	accounts := auth.NewService(store, sessions, tokens, log)

	registry := websocket.NewRegistry()
	limiter := router.NewRateLimiter(cfg.Hub.MessageRateLimit, time.Minute)
	eventRouter := router.NewRouter(registry, limiter, log)
	publisher := presence.NewPublisher(registry, eventRouter, log)
	messageHub := hub.NewHub(registry, eventRouter, publisher, cfg.Hub.QueueSize, log)

	wsHandler := websocket.NewHandler(
		authenticator,
		messageHub,
		router.PersonalRoomAuthorizer{},
		websocket.ConnectionOptions{
			SendBuffer:     cfg.WebSocket.BufferSize,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			PingInterval:   cfg.WebSocket.PingInterval,
			ReadTimeout:    cfg.WebSocket.ReadTimeout,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		},
		originChecker(cfg.HTTP.CORSOrigins),
		log,
	)

	apiServer := api.NewServer(accounts, authenticator, registry, store, wsHandler, api.Options{
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		AuthRateLimit:  cfg.HTTP.AuthRateLimit,
		CookieSecure:   cfg.HTTP.CookieSecure,
		RequestTimeout: cfg.Database.Timeout,
		Queue:          messageHub,
	}, log)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	return &Application{
		config:     cfg,
		log:        log.With(slog.String("component", "app")),
		store:      store,
		sessions:   sessions,
		registry:   registry,
		limiter:    limiter,
		hub:        messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
		errCh:      make(chan error, 1),
	}, nil
}

// ensureDataDir creates the parent directory of an on-disk SQLite database.
func ensureDataDir(c *dbconfig.Config) error {
	if c.Driver != dbconfig.DriverSQLite || c.DatabasePath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(c.DatabasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

// originChecker accepts the configured CORS origins. Requests without an
// Origin header are native clients and always pass.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return nil
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Start launches the hub and background jobs, then begins serving HTTP. It
// returns once the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		cancel()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener
	app.cancel = cancel

	app.sessions.StartPurge(runCtx, app.config.Auth.PurgeInterval, app.config.Auth.PurgeRetention)
	app.limiter.StartCleanup(runCtx, cleanupInterval)
	app.apiServer.AuthLimiter().StartCleanup(runCtx, cleanupInterval)

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.errCh)
	}()

	app.log.Info("application started", slog.String("addr", listener.Addr().String()))
	return nil
}

// Errors reports a fatal serve error. It is closed when serving ends.
func (app *Application) Errors() <-chan error {
	return app.errCh
}

// Stop shuts down in reverse order: HTTP → Hub → background jobs → Database.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down application")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if app.cancel != nil {
		app.cancel()
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.log.Info("application shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, else the configured one.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Registry exposes live connection state for diagnostics and tests.
func (app *Application) Registry() *websocket.Registry {
	return app.registry
}
