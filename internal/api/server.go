package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/haphu2512-java/ZaloForEdu/internal/auth"
	"github.com/haphu2512-java/ZaloForEdu/internal/router"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// AccountService is the account flow surface behind /api/auth.
type AccountService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*types.User, string, error)
	VerifyEmail(ctx context.Context, token string) (*types.User, error)
	Login(ctx context.Context, email, password, ip string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, raw, ip string) (*auth.TokenPair, error)
	Logout(ctx context.Context, raw, ip string)
}

// Directory answers presence queries from the live connection registry.
type Directory interface {
	ListOnline() []types.OnlineUser
	IsOnline(userID string) bool
	GetStats() map[string]int
}

// HealthChecker reports storage reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options tunes the HTTP surface.
type Options struct {
	CORSOrigins    []string
	AuthRateLimit  int
	CookieSecure   bool
	RequestTimeout time.Duration
	// Queue reports hub backlog on /health. Optional.
	Queue QueueReporter
}

// QueueReporter exposes the length of the hub command queue.
type QueueReporter interface {
	QueueDepth() int
}

// Server serves the REST API, health endpoint and WebSocket upgrade route.
type Server struct {
	accounts      AccountService
	authenticator interfaces.Authenticator
	directory     Directory
	db            HealthChecker
	authLimiter   *router.RateLimiter
	opts          Options
	log           *slog.Logger
	router        *mux.Router
	handler       http.Handler
	startedAt     time.Time
}

// NewServer wires the routes. ws serves /ws and may be nil.
func NewServer(
	accounts AccountService,
	authenticator interfaces.Authenticator,
	directory Directory,
	db HealthChecker,
	ws http.Handler,
	opts Options,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	s := &Server{
		accounts:      accounts,
		authenticator: authenticator,
		directory:     directory,
		db:            db,
		authLimiter:   router.NewRateLimiter(opts.AuthRateLimit, time.Minute),
		opts:          opts,
		log:           log.With(slog.String("component", "api")),
		router:        mux.NewRouter(),
		startedAt:     time.Now(),
	}

	s.setupRoutes(ws)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           86400,
	}).Handler(s.router)

	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)

	api.Handle("/auth/me", s.requireAuth(http.HandlerFunc(s.me))).Methods(http.MethodGet)

	authRoutes := api.PathPrefix("/auth").Subrouter()
	authRoutes.Use(s.rateLimitMiddleware)
	authRoutes.HandleFunc("/register", s.register).Methods(http.MethodPost)
	authRoutes.HandleFunc("/verify-email", s.verifyEmail).Methods(http.MethodPost)
	authRoutes.HandleFunc("/login", s.login).Methods(http.MethodPost)
	authRoutes.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	authRoutes.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	api.Handle("/presence", s.requireAuth(http.HandlerFunc(s.listPresence))).Methods(http.MethodGet)
	api.Handle("/presence/{userId}", s.requireAuth(http.HandlerFunc(s.userPresence))).Methods(http.MethodGet)

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)

	if ws != nil {
		s.router.Handle("/ws", ws).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "route not found", http.StatusNotFound)
	}))
	s.router.MethodNotAllowedHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
	}))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// AuthLimiter exposes the per-IP limiter so its cleanup can be scheduled.
func (s *Server) AuthLimiter() *router.RateLimiter {
	return s.authLimiter
}

type PresenceResponse struct {
	Users []types.OnlineUser `json:"users"`
	Count int                `json:"count"`
}

type UserPresenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	QueueDepth  int            `json:"queueDepth"`
	Uptime      string         `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) listPresence(w http.ResponseWriter, r *http.Request) {
	users := s.directory.ListOnline()
	s.sendJSON(w, http.StatusOK, PresenceResponse{Users: users, Count: len(users)})
}

func (s *Server) userPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !types.IsValidUserID(userID) {
		s.sendError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	s.sendJSON(w, http.StatusOK, UserPresenceResponse{UserID: userID, Online: s.directory.IsOnline(userID)})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.db.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
		s.log.Error("health check failed", slog.Any("error", err))
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	resp := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: s.directory.GetStats(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.opts.Queue != nil {
		resp.QueueDepth = s.opts.Queue.QueueDepth()
	}
	s.sendJSON(w, code, resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to write response", slog.Any("error", err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// errorStatus maps account flow errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidEmail),
		errors.Is(err, types.ErrWeakPassword),
		errors.Is(err, types.ErrPasswordTooLong),
		errors.Is(err, types.ErrInvalidFullName),
		errors.Is(err, types.ErrInvalidRole),
		errors.Is(err, auth.ErrInvalidVerification):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrEmailNotVerified),
		errors.Is(err, auth.ErrAccountDisabled),
		errors.Is(err, interfaces.ErrInvalidToken),
		errors.Is(err, interfaces.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// sendFailure reports err without leaking internal details on 5xx.
func (s *Server) sendFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	message := publicMessage(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		message = "internal server error"
	}
	s.sendError(w, message, code)
}

func publicMessage(err error) string {
	for _, sentinel := range []error{
		types.ErrInvalidEmail,
		types.ErrWeakPassword,
		types.ErrPasswordTooLong,
		types.ErrInvalidFullName,
		types.ErrInvalidRole,
		auth.ErrInvalidVerification,
		auth.ErrEmailTaken,
		auth.ErrInvalidCredentials,
		auth.ErrEmailNotVerified,
		auth.ErrAccountDisabled,
		interfaces.ErrInvalidToken,
		interfaces.ErrAuthentication,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// clientIP is the peer address without port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type contextKey int

const userContextKey contextKey = iota

// requireAuth rejects requests without a valid bearer access token and
// stores the authenticated user on the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()

		user, err := s.authenticator.Authenticate(ctx, auth.ExtractBearer(r))
		if err != nil {
			s.sendFailure(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// authenticatedUser returns the user set by requireAuth.
func authenticatedUser(ctx context.Context) (*types.User, bool) {
	user, ok := ctx.Value(userContextKey).(*types.User)
	return user, ok && user != nil
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			s.sendError(w, "too many requests, retry later", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
