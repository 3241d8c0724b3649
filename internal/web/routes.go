package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-grouper/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/", s.groupHandler.Start)
		r.Get("/", s.groupHandler.List)
		r.Get("/{jobId}", s.groupHandler.Status)
		r.Get("/{jobId}/events", s.groupHandler.Events)
		r.Delete("/{jobId}", s.groupHandler.Cancel)
	})
}
