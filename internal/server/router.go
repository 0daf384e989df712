// Package server exposes the enrichment engine over HTTP.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the chi router, attaches all middleware, and
// registers every route. It is the single source of truth for the HTTP
// surface area.
func NewRouter(h *Handler, reg prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/enqueue", h.Enqueue)

		// /batches/from-queue must be registered before /batches/{id}
		// so chi does not treat "from-queue" as an id.
		r.Post("/batches/from-queue", h.SubmitFromQueue)
		r.Post("/batches", h.SubmitDirect)
		r.Get("/batches/{id}/status", h.BatchStatus)
		r.Post("/batches/{id}/status", h.BatchStatus)

		r.Get("/queue/status", h.QueueStatus)
		r.Post("/queue/status", h.QueueStatus)
		r.Delete("/queue", h.ClearQueue)
	})

	return r
}
