// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment variables read by Init.
const (
	EnvJSON  = "AUGUR_JSON_LOG"
	EnvLevel = "AUGUR_LOG_LEVEL"
)

// Init configures a global slog logger writing to stderr. JSON if
// AUGUR_JSON_LOG=1/true/json else text.
func Init(service string) *slog.Logger {
	return InitWriter(os.Stderr, service)
}

// InitWriter is Init writing to w.
func InitWriter(w io.Writer, service string) *slog.Logger {
	json := isJSON(os.Getenv(EnvJSON))
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Debug("logging initialized", "json", json)
	return logger
}

func isJSON(mode string) bool {
	switch strings.ToLower(mode) {
	case "1", "true", "json":
		return true
	default:
		return false
	}
}

func levelFromEnv() slog.Leveler {
	return ParseLevel(os.Getenv(EnvLevel))
}

// ParseLevel maps debug/info/warn/error to a slog level; anything else is
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
