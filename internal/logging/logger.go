package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a JSON or text logger writing to w, fanned out to extra
// handlers when any are given. A nil w writes to stdout.
func New(level, format string, w io.Writer, extra ...slog.Handler) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	if len(extra) > 0 {
		handler = NewMultiHandler(append([]slog.Handler{handler}, extra...)...)
	}
	return slog.New(handler)
}

// Setup builds a stdout logger and installs it as the slog default.
func Setup(level, format string, extra ...slog.Handler) *slog.Logger {
	log := New(level, format, os.Stdout, extra...)
	slog.SetDefault(log)
	return log
}
