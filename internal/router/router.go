package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haphu2512-java/ZaloForEdu/internal/websocket"
	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
	"github.com/haphu2512-java/ZaloForEdu/pkg/types"
)

// Delivery is one envelope addressed to a set of connections.
type Delivery struct {
	Targets  []interfaces.Connection
	Envelope *types.Envelope
}

// HandlerFunc turns one inbound event into deliveries. It runs on the hub
// goroutine and must not block on I/O.
type HandlerFunc func(sender interfaces.Connection, data json.RawMessage) ([]Delivery, error)

// Router holds the event dispatch table and performs fan-out.
type Router struct {
	registry    *websocket.Registry
	handlers    map[string]HandlerFunc
	rateLimiter *RateLimiter
	log         *slog.Logger
	now         func() time.Time
}

// NewRouter creates a router with the default classroom event handlers.
// limiter applies to message:send and may be nil.
func NewRouter(registry *websocket.Registry, limiter *RateLimiter, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if limiter == nil {
		limiter = NewRateLimiter(0, time.Minute)
	}

	r := &Router{
		registry:    registry,
		handlers:    make(map[string]HandlerFunc),
		rateLimiter: limiter,
		log:         log.With(slog.String("component", "router")),
		now:         time.Now,
	}

	r.HandleFunc(types.EventJoinRoom, r.handleJoinRoom)
	r.HandleFunc(types.EventLeaveRoom, r.handleLeaveRoom)
	r.HandleFunc(types.EventMessageSend, r.handleMessageSend)
	r.HandleFunc(types.EventTypingStart, r.handleTypingStart)
	r.HandleFunc(types.EventTypingStop, r.handleTypingStop)
	r.HandleFunc(types.EventMessageRead, r.handleMessageRead)
	for _, event := range []string{
		types.EventCallOffer,
		types.EventCallAnswer,
		types.EventCallIceCandidate,
		types.EventCallEnd,
	} {
		r.HandleFunc(event, r.callSignal(event))
	}

	return r
}

// HandleFunc sets the handler for event, replacing any existing one.
func (r *Router) HandleFunc(event string, h HandlerFunc) {
	r.handlers[event] = h
}

// Handle runs the handler for env. Failures become a single error event
// addressed to the sender.
func (r *Router) Handle(sender interfaces.Connection, env *types.Envelope) []Delivery {
	h, ok := r.handlers[env.Event]
	if !ok {
		return r.errorDelivery(sender, env.Event, ErrUnknownEvent)
	}

	deliveries, err := h(sender, env.Data)
	if err != nil {
		r.log.Debug("event rejected",
			slog.String("event", env.Event),
			slog.String("user_id", sender.User().ID),
			slog.Any("error", err),
		)
		return r.errorDelivery(sender, env.Event, err)
	}
	return deliveries
}

// Route handles env and delivers the result.
func (r *Router) Route(sender interfaces.Connection, env *types.Envelope) {
	r.Deliver(r.Handle(sender, env))
}

// Deliver encodes each envelope once and queues it on every target. A
// failing target is logged and skipped; it never affects the others. It
// returns the number of failed sends.
func (r *Router) Deliver(deliveries []Delivery) int {
	failed := 0
	for _, d := range deliveries {
		if len(d.Targets) == 0 {
			continue
		}
		frame, err := json.Marshal(d.Envelope)
		if err != nil {
			r.log.Error("failed to encode envelope", slog.String("event", d.Envelope.Event), slog.Any("error", err))
			continue
		}
		for _, target := range d.Targets {
			if err := target.Send(frame); err != nil {
				failed++
				r.log.Warn("delivery failed",
					slog.String("event", d.Envelope.Event),
					slog.String("conn_id", target.ID()),
					slog.String("user_id", target.User().ID),
					slog.Any("error", err),
				)
			}
		}
	}
	return failed
}

// ErrorCode maps a handler error to the code carried in the error event.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, interfaces.ErrAuthorization), errors.Is(err, ErrForeignPersonalRoom):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownEvent),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrMissingRecipient),
		errors.Is(err, ErrMissingMessageID),
		errors.Is(err, ErrPersonalRoomLeave),
		errors.Is(err, types.ErrInvalidRoomID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorEnvelope builds the "error" event reported for event.
func ErrorEnvelope(event string, err error) *types.Envelope {
	env, _ := types.NewEnvelope(types.EventError, types.ErrorPayload{
		Event:   event,
		Code:    ErrorCode(err),
		Message: err.Error(),
	})
	return env
}

func (r *Router) errorDelivery(sender interfaces.Connection, event string, err error) []Delivery {
	return []Delivery{{
		Targets:  []interfaces.Connection{sender},
		Envelope: ErrorEnvelope(event, err),
	}}
}

// except returns conns without the connection with id skip.
func except(conns []interfaces.Connection, skip string) []interfaces.Connection {
	out := conns[:0]
	for _, c := range conns {
		if c.ID() != skip {
			out = append(out, c)
		}
	}
	return out
}

func single(targets []interfaces.Connection, event string, data any) ([]Delivery, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	env, err := types.NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return []Delivery{{Targets: targets, Envelope: env}}, nil
}

func decodeObject(data json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrMalformedPayload
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func roomField(fields map[string]json.RawMessage) (string, error) {
	roomID := stringField(fields, "roomId")
	if !types.IsValidRoomID(roomID) {
		return "", types.ErrInvalidRoomID
	}
	return roomID, nil
}

func (r *Router) handleJoinRoom(sender interfaces.Connection, data json.RawMessage) ([]Delivery, error) {
	roomID, err := types.ParseRoomID(data)
	if err != nil {
		return nil, err
	}
	if owner, ok := types.PersonalRoomOwner(roomID); ok && owner != sender.User().ID {
		return nil, ErrForeignPersonalRoom
	}
	r.registry.JoinRoom(sender.ID(), roomID)
	return nil, nil
}

func (r *Router) handleLeaveRoom(sender interfaces.Connection, data json.RawMessage) ([]Delivery, error) {
	roomID, err := types.ParseRoomID(data)
	if err != nil {
		return nil, err
	}
	if roomID == types.PersonalRoom(sender.User().ID) {
		return nil, ErrPersonalRoomLeave
	}
	r.registry.LeaveRoom(sender.ID(), roomID)
	return nil, nil
}

// MessageSender is the sender block stamped on every message:new.
// LegacyID repeats ID under the "_id" key older clients read.
type MessageSender struct {
	ID       string `json:"id"`
	LegacyID string `json:"_id"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

func (r *Router) handleMessageSend(sender interfaces.Connection, data json.RawMessage) ([]Delivery, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	roomID, err := roomField(fields)
	if err != nil {
		return nil, err
	}

	user := sender.User()
	if !r.rateLimiter.Allow(user.ID) {
		return nil, ErrRateLimitExceeded
	}

	stamp, err := json.Marshal(MessageSender{ID: user.ID, LegacyID: user.ID, FullName: user.FullName, Avatar: user.Avatar})
	if err != nil {
		return nil, err
	}
	fields["sender"] = stamp

	return single(except(r.registry.RoomConnections(roomID), sender.ID()), types.EventMessageNew, fields)
}

// TypingPayload is fanned out for typing:start; typing:stop omits FullName.
type TypingPayload struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName,omitempty"`
	RoomID   string `json:"roomId"`
}

func (r *Router) handleTypingStart(sender interfaces.Connection, data json.RawMessage) ([]Delivery, error) {
	return r.typing(sender, data, types.EventTypingStart, true)
}

func (r *Router) handleTypingStop(sender interfaces.Connection, data json.RawMessage) ([]Delivery, error) {
	return r.typing(sender, data, types.EventTypingStop, false)
}

func (r *Router) typing(sender interfaces.Connection, data json.RawMessage, event string, withName bool) ([]Delivery, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	roomID, err := roomField(fields)
	if err != nil {
		return nil, err
	}

	user := sender.User()
	payload := TypingPayload{UserID: user.ID, RoomID: roomID}
	if withName {
		payload.FullName = user.FullName
	}
	return single(except(r.registry.RoomConnections(roomID), sender.ID()), event, payload)
}

// ReadReceipt is fanned out for message:read.
type ReadReceipt struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

func (r *Router) handleMessageRead(sender interfaces.Connection, data json.RawMessage) ([]Delivery, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	roomID, err := roomField(fields)
	if err != nil {
		return nil, err
	}
	messageID := stringField(fields, "messageId")
	if messageID == "" {
		return nil, ErrMissingMessageID
	}

	receipt := ReadReceipt{
		MessageID: messageID,
		RoomID:    roomID,
		UserID:    sender.User().ID,
		ReadAt:    r.now().UTC(),
	}
	return single(except(r.registry.RoomConnections(roomID), sender.ID()), types.EventMessageRead, receipt)
}

// Caller identifies the caller on call:offer.
type Caller struct {
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

// callSignal relays a call event to every connection of the "to" user. The
// signal fields pass through untouched apart from "to", which is replaced by
// "from". An offline callee is a silent drop.
func (r *Router) callSignal(event string) HandlerFunc {
	return func(sender interfaces.Connection, data json.RawMessage) ([]Delivery, error) {
		fields, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		to := stringField(fields, "to")
		if to == "" {
			return nil, ErrMissingRecipient
		}
		delete(fields, "to")

		user := sender.User()
		from, err := json.Marshal(user.ID)
		if err != nil {
			return nil, err
		}
		fields["from"] = from

		if event == types.EventCallOffer {
			caller, err := json.Marshal(Caller{FullName: user.FullName, Avatar: user.Avatar})
			if err != nil {
				return nil, err
			}
			fields["caller"] = caller
		}

		return single(r.registry.UserConnections(to), event, fields)
	}
}
