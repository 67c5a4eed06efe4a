package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes registers all optimization routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		// Solves can be heavy; give them more headroom than the default.
		r.Use(middleware.Timeout(120 * time.Second))

		r.Get("/defaults", h.HandleDefaults)
		r.Post("/run", h.HandleRun)
		r.Post("/min-variance", h.HandleMinVariance)
		r.Post("/frontier", h.HandleFrontier)
	})
}
