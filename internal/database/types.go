package database

import (
	"time"
)

// ReferenceSource indicates how a reference embedding entered the gallery.
type ReferenceSource string

const (
	// ReferenceSourceManual is a reference registered from an uploaded image.
	ReferenceSourceManual ReferenceSource = "manual"
	// ReferenceSourceVideoFrame is a reference promoted from a video frame detection.
	ReferenceSourceVideoFrame ReferenceSource = "video_frame"
)

// ReferenceEmbedding is one known face embedding for a creator.
// At most one embedding per creator has IsPrimary set.
type ReferenceEmbedding struct {
	ID              int64
	CreatorID       int64
	Embedding       []float32
	Source          ReferenceSource
	SourceVideoID   *int64   // set when Source is video_frame
	SourceTimestamp *float64 // seconds into the source video
	DetScore        float64
	IsPrimary       bool
	Age             *int
	Gender          string // "M", "F" or empty
	CreatedAt       time.Time
}

// MatchStatus is the lifecycle state of a detection's match.
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusConfirmed MatchStatus = "confirmed"
	MatchStatusRejected  MatchStatus = "rejected"
	MatchStatusNoMatch   MatchStatus = "no_match"
)

// Detection is one face found in one extracted frame of one video.
// A no_match detection never carries a matched creator.
type Detection struct {
	ID               int64
	VideoID          int64
	Timestamp        float64   // seconds into the video
	BBox             []float64 // [x1, y1, x2, y2] in frame pixel coordinates
	DetScore         float64
	Embedding        []float32
	MatchedCreatorID *int64
	MatchConfidence  *float64
	MatchStatus      MatchStatus
	Age              *int
	Gender           string
	CreatedAt        time.Time
}

// JobStatus is the lifecycle state of an extraction job.
// Completed and failed are terminal; the queue never re-enters them.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSkipped    JobStatus = "skipped"
)

// IsTerminal reports whether the status ends the job's lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusSkipped
}

// ExtractionJob tracks face extraction progress for one video.
// Retained after completion for audit.
type ExtractionJob struct {
	ID              int64
	VideoID         int64
	Status          JobStatus
	TotalFrames     int
	ProcessedFrames int
	RetryCount      int
	LastError       string
	FrameDir        string // temp directory holding the extracted frames
	NextAttemptAt   time.Time
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}
