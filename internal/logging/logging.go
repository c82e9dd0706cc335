// Package logging wraps log/slog with a constructor-injected value rather
// than a package-level singleton, so callers never reach through a
// hidden global to get a logger.
package logging

import (
	"log/slog"
	"os"
)

// Config controls logger construction.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // json, text
}

// New builds a *slog.Logger per cfg. Unrecognized levels fall back to INFO;
// unrecognized formats fall back to text.
func New(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// ForRequest returns a child logger with request_id and patient hash
// attached. The hash is never logged in full — only its first 16 hex
// characters — since the orchestrator treats it as sensitive even though
// it is already pseudonymous (spec §3, "Subject fingerprint").
func ForRequest(base *slog.Logger, requestID, patientIDHash string) *slog.Logger {
	shortHash := patientIDHash
	if len(shortHash) > 16 {
		shortHash = shortHash[:16] + "..."
	}
	return base.With("request_id", requestID, "patient_hash", shortHash)
}
