package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/moisson/idgen"
	"github.com/hazyhaar/moisson/kit"
)

var requestID = idgen.NanoID(8)

// RequestID assigns each request a short random id and injects it into
// the context, the X-Request-ID response header, and a per-request
// structured logger stored under LoggerKey.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID()

		ctx := kit.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Info("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
