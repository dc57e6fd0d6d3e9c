package runtime

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func NewLogger(service string) *slog.Logger {
	return NewLoggerTo(os.Stdout, service, Getenv("LOG_LEVEL", "info"))
}

func NewLoggerTo(w io.Writer, service string, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(h).With("service", service)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// DiscardLogger is handy in tests.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
