package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())

	// Prometheus scrape endpoint, mounted when the telemetry module is loaded.
	if g.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}

	// Webhooks — per-source validation inside the dispatcher.
	r.Post("/webhooks/{source}", g.dispatcher.ServeHTTP)

	// Provisioning progress stream.
	r.Handle("/ws/runs", g.progress)

	// Admin endpoints — auth required. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth))
			r.Route("/api", func(r chi.Router) {
				r.Get("/templates/{owner}", g.handleListTemplates())
				r.Get("/runs", g.handleListRuns())
			})
		})
	}

	return r
}
