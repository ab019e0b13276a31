package handlers

import (
	"net/http"
)

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	deps *Deps
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(deps *Deps) *HealthHandler {
	return &HealthHandler{deps: deps}
}

type healthResponse struct {
	Status      string `json:"status"`
	FaceService any    `json:"face_service"`
	ActiveJobs  int    `json:"active_jobs"`
}

// Get handles the health check endpoint. The face service being down
// degrades the status but keeps the endpoint at 200: the API itself is up.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if info, err := h.deps.Detector.Health(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.FaceService = map[string]string{"error": err.Error()}
	} else {
		resp.FaceService = info
	}

	if active, err := h.deps.Jobs.Active(r.Context()); err == nil {
		resp.ActiveJobs = len(active)
	}

	respondJSON(w, http.StatusOK, resp)
}
