package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/apotheca/apotheca/internal/observability"
	"github.com/apotheca/apotheca/internal/platform/httpx"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	// Checks run on /readyz, keyed by dependency name.
	Checks map[string]Checker
	// Jobs mounts queue observability under /jobs when set.
	Jobs interface{ MountRoutes(chi.Router) }
}

// NewRouter constructs the operations router: health, readiness, metrics
// and job queue status. Stock movements are not exposed over HTTP.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.NotFound(httpx.NotFound)
	r.MethodNotAllowed(httpx.MethodNotAllowed)
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		status := http.StatusOK
		report := make(map[string]string, len(params.Checks))
		for name, check := range params.Checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				if params.Logger != nil {
					params.Logger.Warn("readiness check failed", slog.String("dependency", name), slog.Any("error", err))
				}
				continue
			}
			report[name] = "ok"
		}
		httpx.JSON(w, status, report)
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.Jobs != nil {
		r.Route("/jobs", params.Jobs.MountRoutes)
	}
	return r
}
