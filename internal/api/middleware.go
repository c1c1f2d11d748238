package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// recoverer ensures a panicking handler can't take down the operator API's
// http.Server.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("operator api handler panicked", slog.Any("recover", rec))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// accessLog logs each request's route, status, and duration at a level keyed
// to the response status.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		}
		switch {
		case ww.Status() >= 500:
			slog.LogAttrs(r.Context(), slog.LevelError, "operator_api_access", attrs...)
		case ww.Status() >= 400:
			slog.LogAttrs(r.Context(), slog.LevelWarn, "operator_api_access", attrs...)
		default:
			slog.LogAttrs(r.Context(), slog.LevelInfo, "operator_api_access", attrs...)
		}
	})
}
