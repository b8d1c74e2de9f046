package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global Sentry client. An empty dsn leaves Sentry
// disabled and reports false.
func InitSentry(dsn, environment string, tracesSampleRate float64) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		EnableTracing:    tracesSampleRate > 0,
		TracesSampleRate: tracesSampleRate,
	})
	if err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}
	return true, nil
}

// Flush waits up to timeout for buffered Sentry events to be sent.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// SentryHandler forwards records at or above its level to Sentry as events.
// The "error" attribute becomes the event exception and "component" a tag.
type SentryHandler struct {
	hub    *sentry.Hub
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

// NewSentryHandler reports ERROR and above through hub. A nil hub uses the
// current global hub.
func NewSentryHandler(hub *sentry.Hub) *SentryHandler {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryHandler{hub: hub, level: slog.LevelError}
}

func (h *SentryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *SentryHandler) Handle(_ context.Context, record slog.Record) error {
	event := sentry.NewEvent()
	event.Level = sentryLevel(record.Level)
	event.Message = record.Message
	event.Timestamp = record.Time
	event.Logger = "slog"

	for _, a := range h.attrs {
		h.apply(event, "", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		h.apply(event, h.prefix, a)
		return true
	})

	h.hub.CaptureEvent(event)
	return nil
}

func (h *SentryHandler) apply(event *sentry.Event, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, inner := range a.Value.Group() {
			h.apply(event, prefix+a.Key+".", inner)
		}
		return
	}

	key := prefix + a.Key
	switch {
	case a.Key == "error":
		if err, ok := a.Value.Any().(error); ok {
			event.Exception = append(event.Exception, sentry.Exception{
				Type:  fmt.Sprintf("%T", err),
				Value: err.Error(),
			})
			return
		}
	case a.Key == "component" || strings.HasSuffix(a.Key, "_id"):
		event.Tags[key] = a.Value.String()
		return
	}
	event.Extra[key] = a.Value.Any()
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func sentryLevel(level slog.Level) sentry.Level {
	switch {
	case level >= slog.LevelError:
		return sentry.LevelError
	case level >= slog.LevelWarn:
		return sentry.LevelWarning
	case level >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}
