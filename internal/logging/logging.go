// Package logging provides structured logging for the ZRC control plane.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging.
const (
	KeyError       = "error"
	KeyComponent   = "component"
	KeyDuration    = "duration"
	KeyCount       = "count"
	KeyRequestID   = "request_id"
	KeyDeviceID    = "device_id"
	KeyOperatorID  = "operator_id"
	KeyInviteID    = "invite_id"
	KeySessionID   = "session_id"
	KeyTicketID    = "ticket_id"
	KeyMsgType     = "msg_type"
	KeyEvent       = "event"
	KeyOutcome     = "outcome"
	KeyStreamID    = "stream_id"
	KeyRateLimitOp = "rate_limit_op"
)
