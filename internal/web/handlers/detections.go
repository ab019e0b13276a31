package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/kozaktomas/video-tagger/internal/database"
)

// DetectionsHandler reviews face detections.
type DetectionsHandler struct {
	deps *Deps
}

// NewDetectionsHandler creates a detections handler.
func NewDetectionsHandler(deps *Deps) *DetectionsHandler {
	return &DetectionsHandler{deps: deps}
}

type detectionView struct {
	ID               int64     `json:"id"`
	VideoID          int64     `json:"video_id"`
	Timestamp        float64   `json:"timestamp"`
	BBox             []float64 `json:"bbox"`
	DetScore         float64   `json:"det_score"`
	MatchedCreatorID *int64    `json:"matched_creator_id"`
	MatchConfidence  *float64  `json:"match_confidence"`
	MatchStatus      string    `json:"match_status"`
	Age              *int      `json:"age,omitempty"`
	Gender           string    `json:"gender,omitempty"`
}

// ListByVideo returns all detections of a video. Embeddings are omitted
// from the response.
func (h *DetectionsHandler) ListByVideo(w http.ResponseWriter, r *http.Request) {
	videoID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	detections, err := h.deps.Dets.ByVideo(r.Context(), videoID)
	if err != nil {
		log.Printf("list detections for video %d: %v", videoID, err)
		respondError(w, http.StatusInternalServerError, "could not load detections")
		return
	}

	views := make([]detectionView, len(detections))
	for i, det := range detections {
		views[i] = detectionView{
			ID:               det.ID,
			VideoID:          det.VideoID,
			Timestamp:        det.Timestamp,
			BBox:             det.BBox,
			DetScore:         det.DetScore,
			MatchedCreatorID: det.MatchedCreatorID,
			MatchConfidence:  det.MatchConfidence,
			MatchStatus:      string(det.MatchStatus),
			Age:              det.Age,
			Gender:           det.Gender,
		}
	}
	respondJSON(w, http.StatusOK, views)
}

type confirmRequest struct {
	CreatorID int64 `json:"creator_id"`
}

// Confirm tags the detection's video with the creator and resolves the
// creator's detections on it.
func (h *DetectionsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	detectionID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid detection id")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CreatorID <= 0 {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	err := h.deps.Matcher.ConfirmMatch(r.Context(), detectionID, req.CreatorID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "detection not found")
		return
	}
	if err != nil {
		log.Printf("confirm detection %d: %v", detectionID, err)
		respondError(w, http.StatusInternalServerError, "could not confirm match")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

// Reject marks the detection rejected, keeping the row.
func (h *DetectionsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	detectionID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid detection id")
		return
	}

	err := h.deps.Matcher.RejectMatch(r.Context(), detectionID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "detection not found")
		return
	}
	if err != nil {
		log.Printf("reject detection %d: %v", detectionID, err)
		respondError(w, http.StatusInternalServerError, "could not reject match")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// Promote turns a detection into a reference embedding for a creator.
func (h *DetectionsHandler) Promote(w http.ResponseWriter, r *http.Request) {
	detectionID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid detection id")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CreatorID <= 0 {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	ref, err := h.deps.Matcher.PromoteDetection(r.Context(), detectionID, req.CreatorID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "detection not found")
		return
	}
	if err != nil {
		log.Printf("promote detection %d: %v", detectionID, err)
		respondError(w, http.StatusInternalServerError, "could not promote detection")
		return
	}
	respondJSON(w, http.StatusCreated, referenceView(ref))
}
