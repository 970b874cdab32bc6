package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const eventsPathPrefix = "/api/v1/events"

// requestLogger logs one line per request with the matched route and tab.
// Event streams are long-lived, so they are also logged when they open.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		stream := strings.HasPrefix(r.URL.Path, eventsPathPrefix)
		if stream {
			slog.Info("event stream opened",
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				attrs = append(attrs, "route", pattern)
			}
			if tab := rctx.URLParam("tab_id"); tab != "" {
				attrs = append(attrs, "tab_id", tab)
			}
		}

		msg := "http request"
		if stream {
			msg = "event stream closed"
		}
		slog.Log(r.Context(), requestLevel(r.URL.Path, ww.Status()), msg, attrs...)
	})
}

// requestLevel keeps health checks out of info logs and raises failures.
func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case path == "/health":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
