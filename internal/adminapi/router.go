// Package adminapi is the CTCP server's administrative HTTP surface,
// §6.3's [FULL] addition: a read-only chi-routed API for operator tooling
// (ctcpctl, dashboards) to observe server state without speaking the CTCP
// wire protocol itself. Grounded on the teacher's pkg/controlplane/api
// router and internal/controlplane/api/handlers package set.
package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ctcproto/ctcpd/internal/logger"
	"github.com/ctcproto/ctcpd/internal/session"
)

// NewRouter builds the admin API's http.Handler against the default
// Prometheus registry. Routes:
//
//	GET /healthz      - liveness probe
//	GET /readyz       - readiness probe
//	GET /v1/sessions  - read-only session group/job listing
//	GET /metrics      - Prometheus exposition
func NewRouter(sessions *session.Manager) http.Handler {
	return NewRouterWithGatherer(sessions, prometheus.DefaultGatherer)
}

// NewRouterWithGatherer is NewRouter but serves /metrics from gatherer
// instead of the process-global default registry, so a caller that built
// its own prometheus.Registry for ctcpd's metrics (keeping them isolated
// from anything else registered against prometheus.DefaultRegisterer in
// the same process) can expose exactly that registry here.
func NewRouterWithGatherer(sessions *session.Manager, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := NewHealthHandler(sessions)
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)

	sessionsHandler := NewSessionsHandler(sessions)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", sessionsHandler.List)
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// requestLogger logs each admin API request at debug level, matching the
// teacher's router.go requestLogger middleware shape (minus the
// health-path downgrade, since every route here is already low-volume
// operator traffic).
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("admin api request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
