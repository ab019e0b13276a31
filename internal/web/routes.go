package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/video-tagger/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps)
	processHandler := handlers.NewProcessHandler(s.deps)
	detectionsHandler := handlers.NewDetectionsHandler(s.deps)
	referencesHandler := handlers.NewReferencesHandler(s.deps)
	facesHandler := handlers.NewFacesHandler(s.deps)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Get)

		// Processing pipeline
		r.Post("/videos/{id}/process", processHandler.Start)
		r.Get("/queue", processHandler.QueueStatus)
		r.Delete("/queue", processHandler.ClearQueue)

		// Detections
		r.Get("/videos/{id}/detections", detectionsHandler.ListByVideo)
		r.Post("/detections/{id}/confirm", detectionsHandler.Confirm)
		r.Post("/detections/{id}/reject", detectionsHandler.Reject)
		r.Post("/detections/{id}/promote", detectionsHandler.Promote)

		// Reference gallery
		r.Post("/creators/{id}/references", referencesHandler.Add)
		r.Get("/creators/{id}/references", referencesHandler.ListByCreator)
		r.Put("/references/{id}/primary", referencesHandler.SetPrimary)
		r.Delete("/references/{id}", referencesHandler.Delete)

		// Faces
		r.Post("/faces/similar", facesHandler.Similar)
		r.Get("/creators", facesHandler.Creators)
	})
}
