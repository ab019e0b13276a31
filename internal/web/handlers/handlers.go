package handlers

import (
	"context"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/extraction"
	"github.com/kozaktomas/video-tagger/internal/faceapi"
	"github.com/kozaktomas/video-tagger/internal/library"
	"github.com/kozaktomas/video-tagger/internal/matching"
)

// VideoProcessor runs the per-video pipeline.
type VideoProcessor interface {
	ProcessVideo(ctx context.Context, videoID int64, path string, duration float64) (*database.ExtractionJob, error)
}

// QueueService exposes the extraction queue to the API.
type QueueService interface {
	Status(ctx context.Context) (*extraction.QueueStatus, error)
	ClearQueue(ctx context.Context) (int, error)
}

// MatchService exposes the matching engine to the API.
type MatchService interface {
	FindSimilar(ctx context.Context, embedding []float32, limit int, threshold float64) ([]matching.Match, error)
	ConfirmMatch(ctx context.Context, detectionID, creatorID int64) error
	RejectMatch(ctx context.Context, detectionID int64) error
	AddReference(ctx context.Context, creatorID int64, imageData []byte, source database.ReferenceSource, primary bool) (*database.ReferenceEmbedding, error)
	PromoteDetection(ctx context.Context, detectionID, creatorID int64) (*database.ReferenceEmbedding, error)
}

// FaceService is the slice of the face detection client the API calls.
type FaceService interface {
	Health(ctx context.Context) (*faceapi.HealthInfo, error)
	ExtractEmbedding(ctx context.Context, imageData []byte) ([]float32, error)
}

// LibraryStore is the slice of the video-library store the API reads.
type LibraryStore interface {
	GetVideo(ctx context.Context, id int64) (*library.Video, error)
	ListCreators(ctx context.Context) ([]library.Creator, error)
}

// Deps bundles everything the API handlers call into.
type Deps struct {
	Processor VideoProcessor
	Queue     QueueService
	Matcher   MatchService
	Detector  FaceService
	Library   LibraryStore
	Refs      database.ReferenceWriter
	Dets      database.DetectionReader
	Jobs      database.JobStore
}
