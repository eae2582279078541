// Package api exposes the delivery engine to a presentation layer over HTTP.
package api

import (
	"github.com/amaydixit11/causalchat/internal/network"
	"github.com/amaydixit11/causalchat/internal/search"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, sim *network.Simulator, idx *search.Index) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - the chat UI is usually served from another origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := NewHandler(sim, idx, logger)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	r.Get("/ws", h.Stream)

	r.Get("/session", h.Session)
	r.Post("/session/reset", h.Reset)
	r.Get("/search", h.Search)

	r.Route("/processes/{id}", func(r chi.Router) {
		r.Post("/messages", h.Send)
		r.Get("/messages", h.Delivered)
		r.Get("/clock", h.Clock)
		r.Get("/pending", h.Pending)
	})

	return r
}
