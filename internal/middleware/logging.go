// Package middleware holds the HTTP middleware every request passes through
// before it reaches a route: request ids and access logging.
//
// SHAPE OF A MIDDLEWARE:
//
//	func(next http.Handler) http.Handler
//
// Work done before next.ServeHTTP sees the request; work done after it sees
// the response. Authentication lives in internal/auth and metrics in
// internal/metrics, but they have the same shape.
//
// ORDER IN THE SERVER:
//
//	RequestID → RealIP → Logger → Recoverer → metrics → CORS → auth.Identify → routes
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Logger writes one structured line per request once the response is done.
//
// FIELDS:
// requestID, method, path, remoteAddr, status, duration, bytes.
// Headers are never logged. Authorization carries a live token.
//
// Responses with a 5xx status go out at Error level, everything else at Info.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi's wrapper records status and byte count and keeps
			// Flusher/Hijacker working for the handlers underneath.
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// Nothing written at all: net/http sends 200.
				status = http.StatusOK
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("requestID", RequestIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remoteAddr", r.RemoteAddr),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
			)
		})
	}
}
