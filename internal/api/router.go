package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fitloop/syncd/internal/adapter/observability"
	"github.com/fitloop/syncd/internal/config"
)

// parseOrigins splits a comma-separated origin list, defaulting to "*" when
// empty.
func parseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the Operator API's HTTP handler: the mutating
// actions (sync_now, retry_failed, clear_failed, resolve_conflict) are rate
// limited per spec.md §6, the read-only ones (get_status, the event stream,
// and a Prometheus scrape endpoint) are not.
func BuildRouter(cfg config.Config, srv *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(accessLog)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: parseOrigins(cfg.OperatorCORSOrigins),
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.OperatorRateLimitPerMin, time.Minute))
		wr.Post("/v1/sync_now", srv.SyncNowHandler())
		wr.Post("/v1/retry_failed", srv.RetryFailedHandler())
		wr.Post("/v1/clear_failed", srv.ClearFailedHandler())
		wr.Post("/v1/resolve_conflict", srv.ResolveConflictHandler())
	})

	r.Get("/v1/status", srv.GetStatusHandler())
	r.Get("/v1/events", srv.SubscribeHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
