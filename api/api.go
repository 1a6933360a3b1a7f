// Package api provides the admin HTTP surface: health, scheduler
// stats, replica inspection, and DLQ management. It is read-mostly by
// design — requests enter the scheduler through engine.Submit, not
// through HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jabbala/tenantfair/engine"
)

// API serves the admin endpoints for one scheduler replica.
type API struct {
	eng     *engine.Engine
	logger  *slog.Logger
	metrics http.Handler
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithMetricsHandler mounts a metrics handler (typically promhttp) at
// GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// New creates the admin API for an engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:    eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router assembles the route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", a.stats)
		r.Get("/replicas", a.listReplicas)

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", a.listDLQ)
			r.Get("/count", a.countDLQ)
			r.Post("/purge", a.purgeDLQ)
			r.Get("/{entryID}", a.getDLQ)
			r.Post("/{entryID}/replay", a.replayDLQ)
		})
	})

	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		a.writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
