// Package shield provides the HTTP hardening middleware for the moisson
// control plane: security headers, request body limits, per-request ids
// with a scoped logger, HEAD handling, and optional Basic Auth.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack() {
//	    r.Use(mw)
//	}
//	r.Use(shield.BasicAuth("ops", passwordHash))
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Stack returns the standard middleware stack for the control plane,
// ordered: HeadToGet, SecurityHeaders, MaxBody, RequestID.
func Stack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(256 * 1024),
		RequestID,
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
