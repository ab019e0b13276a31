// Package faceapi is the HTTP client for the external face detection service.
// The service exposes face detection with 512-dimensional ArcFace embeddings.
package faceapi

import (
	"errors"
	"fmt"
)

// Face is a single detected face within an image.
type Face struct {
	// BBox is [x1, y1, x2, y2] in image pixel coordinates.
	BBox      [4]float64 `json:"bbox"`
	Embedding []float32  `json:"embedding"`
	DetScore  float64    `json:"det_score"`
	Age       *int       `json:"age,omitempty"`
	Gender    string     `json:"gender,omitempty"`
}

// DetectResult is the response of a detection call.
type DetectResult struct {
	Faces            []Face  `json:"faces"`
	ImageWidth       int     `json:"image_width"`
	ImageHeight      int     `json:"image_height"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
}

// HealthInfo describes the detection service and its loaded model.
type HealthInfo struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	Model              string `json:"model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
}

// DetectionError is returned for failed detection service calls. Transient
// errors (timeouts, connection failures, 5xx) are worth retrying; the rest
// indicate bad input or a misconfigured service.
type DetectionError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("face service %s: %v", e.Op, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a detection error worth retrying.
func IsTransient(err error) bool {
	var detErr *DetectionError
	return errors.As(err, &detErr) && detErr.Transient
}
