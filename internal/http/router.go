// Package httpapi assembles the HTTP surface. Handlers live with their
// modules; this package only decides which middleware guards which routes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hustings/internal/platform/metrics"
	"hustings/internal/platform/middleware"
	"hustings/pkg/platform/httputil"
	"hustings/pkg/platform/middleware/admin"
	"hustings/pkg/platform/middleware/metadata"
	"hustings/pkg/platform/middleware/requesttime"
)

// Module is implemented by every module handler.
type Module interface {
	Register(r chi.Router)
	RegisterAdmin(r chi.Router)
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type Config struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Admin    admin.Verifier
	Timeout  time.Duration
	Checks   map[string]Check

	// Public wraps every non-admin module route, e.g. the rate limiter.
	Public []func(http.Handler) http.Handler

	// Modules are mounted behind the request timeout.
	Modules []Module
	// Streaming modules hold connections open and skip the timeout.
	Streaming []Module
}

func NewRouter(cfg Config) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger, cfg.Metrics))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)

	r.Get("/health", health(cfg.Checks))
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(cfg.Public...)
		for _, m := range cfg.Streaming {
			m.Register(r)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(cfg.Public...)
		r.Use(middleware.Timeout(cfg.Timeout))
		for _, m := range cfg.Modules {
			m.Register(r)
		}
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdmin(cfg.Admin, cfg.Logger))
		r.Use(middleware.Timeout(cfg.Timeout))
		for _, m := range cfg.Streaming {
			m.RegisterAdmin(r)
		}
		for _, m := range cfg.Modules {
			m.RegisterAdmin(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// health answers 503 when any dependency check fails.
func health(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
