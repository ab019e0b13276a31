package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/matching"
)

// maxReferenceUpload bounds reference image uploads to 20 MB.
const maxReferenceUpload = 20 << 20

// ReferencesHandler manages the reference gallery.
type ReferencesHandler struct {
	deps *Deps
}

// NewReferencesHandler creates a references handler.
func NewReferencesHandler(deps *Deps) *ReferencesHandler {
	return &ReferencesHandler{deps: deps}
}

type refView struct {
	ID              int64    `json:"id"`
	CreatorID       int64    `json:"creator_id"`
	Source          string   `json:"source"`
	SourceVideoID   *int64   `json:"source_video_id,omitempty"`
	SourceTimestamp *float64 `json:"source_timestamp,omitempty"`
	DetScore        float64  `json:"det_score"`
	IsPrimary       bool     `json:"is_primary"`
	Age             *int     `json:"age,omitempty"`
	Gender          string   `json:"gender,omitempty"`
}

func referenceView(ref *database.ReferenceEmbedding) refView {
	return refView{
		ID:              ref.ID,
		CreatorID:       ref.CreatorID,
		Source:          string(ref.Source),
		SourceVideoID:   ref.SourceVideoID,
		SourceTimestamp: ref.SourceTimestamp,
		DetScore:        ref.DetScore,
		IsPrimary:       ref.IsPrimary,
		Age:             ref.Age,
		Gender:          ref.Gender,
	}
}

// Add registers a reference image for a creator (multipart upload with an
// "image" field and optional "primary" flag).
func (h *ReferencesHandler) Add(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid creator id")
		return
	}

	if err := r.ParseMultipartForm(maxReferenceUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing image field")
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxReferenceUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read image")
		return
	}

	primary := r.FormValue("primary") == "true"

	ref, err := h.deps.Matcher.AddReference(
		r.Context(), creatorID, imageData, database.ReferenceSourceManual, primary,
	)
	switch {
	case errors.Is(err, matching.ErrNoFace):
		respondError(w, http.StatusUnprocessableEntity, "no face found in reference image")
	case errors.Is(err, database.ErrDimensionMismatch):
		respondError(w, http.StatusUnprocessableEntity, "embedding dimension mismatch")
	case err != nil:
		log.Printf("add reference for creator %d: %v", creatorID, err)
		respondError(w, http.StatusInternalServerError, "could not add reference")
	default:
		respondJSON(w, http.StatusCreated, referenceView(ref))
	}
}

// ListByCreator returns the creator's references, primary first.
func (h *ReferencesHandler) ListByCreator(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid creator id")
		return
	}

	refs, err := h.deps.Refs.GetByCreator(r.Context(), creatorID)
	if err != nil {
		log.Printf("list references for creator %d: %v", creatorID, err)
		respondError(w, http.StatusInternalServerError, "could not load references")
		return
	}

	views := make([]refView, len(refs))
	for i := range refs {
		views[i] = referenceView(&refs[i])
	}
	respondJSON(w, http.StatusOK, views)
}

// SetPrimary marks a reference primary, clearing the flag on its siblings.
func (h *ReferencesHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	refID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid reference id")
		return
	}

	err := h.deps.Refs.SetPrimary(r.Context(), refID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "reference not found")
		return
	}
	if err != nil {
		log.Printf("set primary reference %d: %v", refID, err)
		respondError(w, http.StatusInternalServerError, "could not set primary reference")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Delete removes a reference embedding.
func (h *ReferencesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	refID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid reference id")
		return
	}

	if err := h.deps.Refs.Delete(r.Context(), refID); err != nil {
		log.Printf("delete reference %d: %v", refID, err)
		respondError(w, http.StatusInternalServerError, "could not delete reference")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
