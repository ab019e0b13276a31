package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/library"
)

// ProcessHandler starts video processing and exposes the extraction queue.
type ProcessHandler struct {
	deps *Deps
}

// NewProcessHandler creates a process handler.
func NewProcessHandler(deps *Deps) *ProcessHandler {
	return &ProcessHandler{deps: deps}
}

// Start kicks off the processing pipeline for a video.
func (h *ProcessHandler) Start(w http.ResponseWriter, r *http.Request) {
	videoID, ok := pathID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	video, err := h.deps.Library.GetVideo(r.Context(), videoID)
	if errors.Is(err, library.ErrNotFound) {
		respondError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		log.Printf("load video %d: %v", videoID, err)
		respondError(w, http.StatusInternalServerError, "could not load video")
		return
	}

	job, err := h.deps.Processor.ProcessVideo(r.Context(), video.ID, video.Path, video.Duration)
	if errors.Is(err, database.ErrJobActive) {
		respondError(w, http.StatusConflict, "video already has an active extraction job")
		return
	}
	if err != nil {
		log.Printf("process video %d: %v", videoID, err)
		respondError(w, http.StatusInternalServerError, "video processing failed")
		return
	}

	respondJSON(w, http.StatusAccepted, job)
}

// QueueStatus returns the current extraction queue snapshot.
func (h *ProcessHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.deps.Queue.Status(r.Context())
	if err != nil {
		log.Printf("queue status: %v", err)
		respondError(w, http.StatusInternalServerError, "could not read queue status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ClearQueue cancels all active extraction jobs.
func (h *ProcessHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.deps.Queue.ClearQueue(r.Context())
	if err != nil {
		log.Printf("clear queue: %v", err)
		respondError(w, http.StatusInternalServerError, "could not clear queue")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}
