// Package logger builds the process logger. Every record passes through the
// redacting handler before it is formatted.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"phigate/pkg/platform/redact"
)

// New returns a JSON logger on stdout at the given level.
func New(level string, redactor *redact.Redactor) *slog.Logger {
	return NewWithWriter(os.Stdout, level, redactor)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, level string, redactor *redact.Redactor) *slog.Logger {
	if redactor == nil {
		redactor = redact.New()
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(redact.NewHandler(base, redactor))
}

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
