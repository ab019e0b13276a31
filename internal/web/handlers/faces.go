package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
)

// FacesHandler answers similarity queries against the reference gallery.
type FacesHandler struct {
	deps *Deps
}

// NewFacesHandler creates a faces handler.
func NewFacesHandler(deps *Deps) *FacesHandler {
	return &FacesHandler{deps: deps}
}

type similarRequest struct {
	Embedding   []float32 `json:"embedding"`
	ImageBase64 string    `json:"image_base64"`
	Limit       int       `json:"limit"`
	Threshold   float64   `json:"threshold"`
}

// Similar returns gallery matches for a probe. The probe is either a raw
// embedding or a base64 image, which is sent to the face service first.
func (h *FacesHandler) Similar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Embedding) == 0 && req.ImageBase64 == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 10
	}

	embedding := req.Embedding
	if len(embedding) == 0 {
		imageData, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "image_base64 is not valid base64")
			return
		}
		embedding, err = h.deps.Detector.ExtractEmbedding(r.Context(), imageData)
		if err != nil {
			log.Printf("extract probe embedding: %v", err)
			respondError(w, http.StatusUnprocessableEntity, "could not extract a face from the image")
			return
		}
	}

	matches, err := h.deps.Matcher.FindSimilar(r.Context(), embedding, req.Limit, req.Threshold)
	if err != nil {
		log.Printf("find similar faces: %v", err)
		respondError(w, http.StatusInternalServerError, "similarity search failed")
		return
	}
	respondJSON(w, http.StatusOK, matches)
}

// Creators lists the library's creators for match review UIs.
func (h *FacesHandler) Creators(w http.ResponseWriter, r *http.Request) {
	creators, err := h.deps.Library.ListCreators(r.Context())
	if err != nil {
		log.Printf("list creators: %v", err)
		respondError(w, http.StatusInternalServerError, "could not load creators")
		return
	}

	type creatorView struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	views := make([]creatorView, len(creators))
	for i, c := range creators {
		views[i] = creatorView{ID: c.ID, Name: c.Name}
	}
	respondJSON(w, http.StatusOK, views)
}
