package database

import (
	"context"
	"time"
)

// ReferenceReader provides read-only access to the reference gallery.
type ReferenceReader interface {
	// Get retrieves a reference embedding by ID, returns ErrNotFound if missing.
	Get(ctx context.Context, id int64) (*ReferenceEmbedding, error)
	// GetByCreator retrieves all reference embeddings for a creator, primary first.
	GetByCreator(ctx context.Context, creatorID int64) ([]ReferenceEmbedding, error)
	// All retrieves every reference embedding (used to build the HNSW index).
	All(ctx context.Context) ([]ReferenceEmbedding, error)
	// Count returns the total number of reference embeddings.
	Count(ctx context.Context) (int, error)
	// CountByCreator returns the number of reference embeddings for a creator.
	CountByCreator(ctx context.Context, creatorID int64) (int, error)
	// FindSimilar finds the nearest reference embeddings by cosine distance,
	// returning references and their distances, filtered to maxDistance.
	FindSimilar(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]ReferenceEmbedding, []float64, error)
}

// ReferenceWriter provides write access to the reference gallery.
type ReferenceWriter interface {
	ReferenceReader

	// Save stores a new reference embedding and returns its ID. When
	// ref.IsPrimary is set, the primary flag is cleared on all other
	// embeddings of the same creator in the same transaction.
	Save(ctx context.Context, ref *ReferenceEmbedding) (int64, error)
	// SetPrimary marks the given embedding primary and clears the flag on
	// its siblings as one logical operation.
	SetPrimary(ctx context.Context, id int64) error
	// Delete removes a reference embedding.
	Delete(ctx context.Context, id int64) error
}

// DetectionReader provides read-only access to detections.
type DetectionReader interface {
	// Get retrieves a detection by ID, returns ErrNotFound if missing.
	Get(ctx context.Context, id int64) (*Detection, error)
	// PendingByVideo retrieves all pending-match detections for a video,
	// ordered by timestamp.
	PendingByVideo(ctx context.Context, videoID int64) ([]Detection, error)
	// ByVideo retrieves all detections for a video regardless of match status.
	ByVideo(ctx context.Context, videoID int64) ([]Detection, error)
	// CountByVideo returns the number of detections stored for a video.
	CountByVideo(ctx context.Context, videoID int64) (int, error)
}

// DetectionWriter provides write access to detections.
type DetectionWriter interface {
	DetectionReader

	// SaveBatch stores detections produced by one detection batch.
	SaveBatch(ctx context.Context, detections []Detection) error
	// UpdateMatch persists a detection's match fields.
	UpdateMatch(ctx context.Context, id int64, creatorID int64, confidence float64, status MatchStatus) error
	// MarkNoMatch marks a detection as no_match and clears any matched creator.
	MarkNoMatch(ctx context.Context, id int64) error
	// Reject clears the match fields and sets match_status to rejected.
	// The row is retained for audit.
	Reject(ctx context.Context, id int64) error
	// ResolveCreator deletes, in a single transaction, every detection for
	// the video that is matched to the creator plus the explicitly listed
	// detection IDs. Used when an auto-tag or manual confirmation resolves
	// a creator so operators are not re-prompted. Deleting already-deleted
	// rows is a no-op.
	ResolveCreator(ctx context.Context, videoID, creatorID int64, detectionIDs []int64) error
}

// JobStore manages extraction job rows. The queue worker is the only mutator.
type JobStore interface {
	// Create inserts a pending job for the video. Returns ErrJobActive when
	// the video already has a non-terminal job.
	Create(ctx context.Context, videoID int64, totalFrames int, frameDir string) (*ExtractionJob, error)
	// Get retrieves a job by ID, returns ErrNotFound if missing.
	Get(ctx context.Context, id int64) (*ExtractionJob, error)
	// GetByVideo retrieves the most recent job for a video, or ErrNotFound.
	GetByVideo(ctx context.Context, videoID int64) (*ExtractionJob, error)
	// NextReady claims the oldest pending job whose next_attempt_at has
	// passed and moves it to processing. Returns ErrNotFound when none is ready.
	NextReady(ctx context.Context) (*ExtractionJob, error)
	// IncrementProcessed adds n to the job's processed frame counter.
	IncrementProcessed(ctx context.Context, id int64, n int) error
	// Requeue moves a processing job back to pending with an incremented
	// retry count and the given next attempt time. Detections persisted by
	// earlier batches are kept.
	Requeue(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error
	// MarkCompleted moves a job to the terminal completed status.
	MarkCompleted(ctx context.Context, id int64) error
	// MarkFailed moves a job to the terminal failed status, retaining the
	// last error for operator inspection.
	MarkFailed(ctx context.Context, id int64, lastError string) error
	// MarkSkipped moves a job to the terminal skipped status.
	MarkSkipped(ctx context.Context, id int64, reason string) error
	// Active returns all non-terminal jobs.
	Active(ctx context.Context) ([]ExtractionJob, error)
	// Recent returns the newest jobs up to limit, for status displays.
	Recent(ctx context.Context, limit int) ([]ExtractionJob, error)
	// ClearActive removes all pending jobs and marks processing jobs skipped,
	// returning the cleared jobs so their frame directories can be released.
	ClearActive(ctx context.Context) ([]ExtractionJob, error)
}
