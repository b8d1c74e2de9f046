package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haphu2512-java/ZaloForEdu/internal/auth"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// Handler authenticates, upgrades and pumps WebSocket connections into the
// dispatcher.
type Handler struct {
	authenticator interfaces.Authenticator
	dispatcher    interfaces.Dispatcher
	authorizer    interfaces.RoomAuthorizer
	upgrader      websocket.Upgrader
	opts          ConnectionOptions
	log           *slog.Logger
}

// NewHandler creates a handler. checkOrigin may be nil to accept every origin.
func NewHandler(
	authenticator interfaces.Authenticator,
	dispatcher interfaces.Dispatcher,
	authorizer interfaces.RoomAuthorizer,
	opts ConnectionOptions,
	checkOrigin func(r *http.Request) bool,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		authenticator: authenticator,
		dispatcher:    dispatcher,
		authorizer:    authorizer,
		upgrader: websocket.Upgrader{
			CheckOrigin:      checkOrigin,
			HandshakeTimeout: 10 * time.Second,
		},
		opts: opts,
		log:  log.With(slog.String("component", "websocket")),
	}
}

// ServeHTTP resolves the bearer credential before upgrading. Unauthenticated
// requests get a plain 401 and never become sockets.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticator.Authenticate(r.Context(), auth.ExtractBearer(r))
	if err != nil {
		h.log.Debug("handshake rejected", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}

	conn := NewConnection(ws, user.Summary(), h.opts, h.log)

	if err := h.dispatcher.Register(conn); err != nil {
		h.log.Error("failed to register connection", slog.String("user_id", user.ID), slog.Any("error", err))
		_ = conn.Close()
		return
	}

	h.log.Info("connection opened", slog.String("conn_id", conn.ID()), slog.String("user_id", user.ID))

	go h.serve(conn)
}

// serve is the read pump. When it returns the connection is unregistered and
// closed; there is no resume.
func (h *Handler) serve(conn *Connection) {
	defer func() {
		if err := h.dispatcher.Unregister(conn.ID()); err != nil {
			h.log.Warn("failed to unregister connection", slog.String("conn_id", conn.ID()), slog.Any("error", err))
		}
		_ = conn.Close()
		h.log.Info("connection closed", slog.String("conn_id", conn.ID()), slog.String("user_id", conn.User().ID))
	}()

	ws := conn.conn
	if h.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(h.opts.MaxMessageSize)
	}
	if h.opts.ReadTimeout > 0 {
		if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
			return
		}
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		})
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug("websocket read error", slog.String("conn_id", conn.ID()), slog.Any("error", err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			sendError(conn, "", http.StatusBadRequest, "only text frames are supported")
			continue
		}

		h.handleFrame(conn, data)
	}
}

func (h *Handler) handleFrame(conn *Connection, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		sendError(conn, "", http.StatusBadRequest, "malformed frame")
		return
	}
	if err := env.Validate(); err != nil {
		sendError(conn, env.Event, http.StatusBadRequest, err.Error())
		return
	}

	if env.Event == types.EventJoinRoom && h.authorizer != nil {
		roomID, err := types.ParseRoomID(env.Data)
		if err != nil {
			sendError(conn, env.Event, http.StatusBadRequest, err.Error())
			return
		}
		ctx, cancel := context.WithTimeout(conn.ctx, 5*time.Second)
		err = h.authorizer.CanJoin(ctx, conn.User(), roomID)
		cancel()
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, interfaces.ErrAuthorization) {
				code = http.StatusForbidden
			}
			sendError(conn, env.Event, code, "not allowed to join room")
			return
		}
	}

	if err := h.dispatcher.Dispatch(conn.ID(), &env); err != nil {
		h.log.Warn("failed to dispatch event",
			slog.String("conn_id", conn.ID()),
			slog.String("event", env.Event),
			slog.Any("error", err),
		)
		sendError(conn, env.Event, http.StatusServiceUnavailable, "server busy, retry later")
	}
}

// sendError writes an "error" event straight to conn.
func sendError(conn interfaces.Connection, event string, code int, message string) {
	env, err := types.NewEnvelope(types.EventError, types.ErrorPayload{
		Event:   event,
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = conn.Send(frame)
}
