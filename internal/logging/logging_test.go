package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json", &buf)

	log.Debug("hidden")
	log.Info("hello", slog.String("component", "test"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New("debug", "text", &buf).Debug("visible", slog.Int("n", 3))

	assert.Contains(t, buf.String(), "msg=visible")
	assert.Contains(t, buf.String(), "n=3")
}

func TestMultiHandler(t *testing.T) {
	var info, errOnly bytes.Buffer
	h := NewMultiHandler(
		slog.NewJSONHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&errOnly, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	log := slog.New(h).With(slog.String("component", "multi"))

	log.Info("first")
	log.Error("second")

	assert.Equal(t, 2, strings.Count(info.String(), "\n"))
	assert.Equal(t, 1, strings.Count(errOnly.String(), "\n"))
	assert.Contains(t, errOnly.String(), `"component":"multi"`)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (r *eventRecorder) beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) all() []*sentry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*sentry.Event(nil), r.events...)
}

func newRecordingHub(t *testing.T) (*sentry.Hub, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:        "https://public@sentry.invalid/1",
		BeforeSend: rec.beforeSend,
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), rec
}

func TestSentryHandler(t *testing.T) {
	hub, rec := newRecordingHub(t)
	log := slog.New(NewSentryHandler(hub)).With(slog.String("component", "hub"))

	log.Warn("not reported")
	log.Error("delivery failed",
		slog.String("user_id", "alice"),
		slog.Int("attempt", 2),
		slog.Any("error", errors.New("send buffer full")),
	)

	events := rec.all()
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "delivery failed", event.Message)
	assert.Equal(t, sentry.LevelError, event.Level)
	assert.Equal(t, "hub", event.Tags["component"])
	assert.Equal(t, "alice", event.Tags["user_id"])
	assert.EqualValues(t, 2, event.Extra["attempt"])
	require.Len(t, event.Exception, 1)
	assert.Equal(t, "send buffer full", event.Exception[0].Value)
}

func TestSentryHandler_Groups(t *testing.T) {
	hub, rec := newRecordingHub(t)
	log := slog.New(NewSentryHandler(hub)).WithGroup("request").With(slog.String("path", "/ws"))

	log.Error("boom", slog.Group("peer", slog.String("addr", "10.0.0.1")))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "/ws", events[0].Extra["request.path"])
	assert.Equal(t, "10.0.0.1", events[0].Extra["request.peer.addr"])
}

func TestInitSentry_Disabled(t *testing.T) {
	enabled, err := InitSentry("", "test", 0)
	require.NoError(t, err)
	assert.False(t, enabled)

	_, err = InitSentry("not a dsn", "test", 0)
	assert.Error(t, err)
}
