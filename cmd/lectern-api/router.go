// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lectern-ai/lectern/cmd/lectern-api/handlers"
	"github.com/lectern-ai/lectern/cmd/lectern-api/middleware"
	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/observability"
	"github.com/lectern-ai/lectern/internal/pipeline"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, svc *pipeline.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	r.Get("/health", handlers.Health(cfg))

	documentHandler := handlers.NewDocumentHandler(logger, svc, cfg.Server.MaxUploadBytes)
	slideHandler := handlers.NewSlideHandler(logger, svc)
	sessionHandler := handlers.NewSessionHandler(logger, svc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", documentHandler.Upload)

			r.Route("/{docID}", func(r chi.Router) {
				r.Get("/", documentHandler.Get)
				r.Get("/figures/{page}", documentHandler.Figure)
				r.Post("/slides", slideHandler.Generate)
				r.Get("/slides", slideHandler.GetDeck)
				r.Get("/slides/{n}", slideHandler.GetSlide)
				r.Post("/slides/{n}/narration", slideHandler.Narration)
				r.Post("/sessions", sessionHandler.Create)
			})
		})

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/turns", sessionHandler.Turn)
			r.Delete("/", sessionHandler.Clear)
		})
	})

	return r
}
