// Package middleware holds the HTTP middleware shared by every route.
package middleware

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/parley/internal/api/shared"
	"github.com/phrazzld/parley/internal/platform/logger"
)

// Trace returns middleware that assigns each request a trace ID and stores
// a request-scoped logger in the context. Records logged through the
// context carry the trace and request ids. It should run early in the
// chain, after chi's RequestID.
func Trace(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			traceID := shared.GetTraceID(ctx)

			attrs := []slog.Attr{slog.String("trace_id", traceID)}
			if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			ctx = logger.WithAttrs(ctx, attrs...)
			ctx = logger.WithLogger(ctx, base)

			base.DebugContext(ctx, "request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
