// Package logging builds the *slog.Logger instances the rest of the module
// receives as a constructor argument (never a package-level global), the
// same convention the teacher uses throughout pkg/relay, pkg/fleet, and
// pkg/rbac.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a slog.Logger from a level name ("debug","info","warn","error")
// and a format ("json" or "text").
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
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
