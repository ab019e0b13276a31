// Package extraction runs face detection over extracted video frames as
// background jobs.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/faceapi"
	"github.com/kozaktomas/video-tagger/internal/frames"
	"github.com/kozaktomas/video-tagger/internal/matching"
)

// Detector is the subset of the face service client the queue needs.
type Detector interface {
	DetectFile(ctx context.Context, path string) (*faceapi.DetectResult, error)
}

// Matcher is invoked once per completed job.
type Matcher interface {
	AutoMatchVideo(ctx context.Context, videoID int64) (*matching.AutoMatchResult, error)
}

// Options configure the queue worker.
type Options struct {
	// BatchSize is both the dispatch unit and the concurrency bound.
	BatchSize int
	// MaxRetries bounds full-job retries before the job fails.
	MaxRetries int
	// RetryInterval is the fixed delay before a requeued job runs again.
	RetryInterval time.Duration
	// FrameInterval is the sampling interval the frames were extracted at,
	// used to recover per-frame timestamps from their index.
	FrameInterval float64
	// PollInterval is how often the worker looks for ready jobs.
	PollInterval time.Duration
}

// Queue pulls extraction jobs and dispatches their frames to the face
// detection service.
type Queue struct {
	jobs     database.JobStore
	dets     database.DetectionWriter
	detector Detector
	matcher  Matcher
	opts     Options
}

// NewQueue creates an extraction queue.
func NewQueue(
	jobs database.JobStore,
	dets database.DetectionWriter,
	detector Detector,
	matcher Matcher,
	opts Options,
) *Queue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Queue{
		jobs:     jobs,
		dets:     dets,
		detector: detector,
		matcher:  matcher,
		opts:     opts,
	}
}

// QueueExtraction creates a pending job for the video's frames. The frame
// directory's cleanup responsibility passes to the queue on success. A video
// with a non-terminal job is rejected with database.ErrJobActive.
func (q *Queue) QueueExtraction(
	ctx context.Context, videoID int64, frameCount int, frameDir string,
) (*database.ExtractionJob, error) {
	job, err := q.jobs.Create(ctx, videoID, frameCount, frameDir)
	if err != nil {
		return nil, err
	}
	log.Printf("queued extraction job %d for video %d (%d frames)", job.ID, videoID, frameCount)
	return job, nil
}

// Start runs the worker loop until the context is cancelled. One job is
// processed at a time; its frame batches run with bounded concurrency.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			job, err := q.jobs.NextReady(ctx)
			if errors.Is(err, database.ErrNotFound) {
				break
			}
			if err != nil {
				log.Printf("claim next job: %v", err)
				break
			}
			q.processJob(ctx, job)

			if ctx.Err() != nil {
				return
			}
		}
	}
}

// ProcessNext claims and processes one ready job. Returns false when no job
// is ready. Used by one-shot CLI commands; the serve loop uses Start.
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	job, err := q.jobs.NextReady(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	q.processJob(ctx, job)
	return true, nil
}

// processJob runs detection over the job's frames. A batch failure retries
// the whole job later; detections persisted by earlier batches are kept and
// their frames are not re-attempted.
func (q *Queue) processJob(ctx context.Context, job *database.ExtractionJob) {
	frameList, err := q.listFrames(job.FrameDir)
	if err != nil {
		q.failOrRequeue(ctx, job, fmt.Errorf("list frames: %w", err))
		return
	}

	// Frames already attempted on a previous run are skipped: their
	// detections are in the database.
	if job.ProcessedFrames > 0 && job.ProcessedFrames <= len(frameList) {
		frameList = frameList[job.ProcessedFrames:]
	}

	for start := 0; start < len(frameList); start += q.opts.BatchSize {
		end := min(start+q.opts.BatchSize, len(frameList))
		batch := frameList[start:end]

		detections, err := q.detectBatch(ctx, job.VideoID, batch)
		if err != nil {
			q.failOrRequeue(ctx, job, err)
			return
		}

		// A cleared queue marks the job skipped while batches are in
		// flight; detection results after that point are discarded.
		current, err := q.jobs.Get(ctx, job.ID)
		if err != nil || current.Status != database.JobStatusProcessing {
			log.Printf("job %d no longer processing, discarding batch results", job.ID)
			return
		}

		if err := q.dets.SaveBatch(ctx, detections); err != nil {
			q.failOrRequeue(ctx, job, fmt.Errorf("save detections: %w", err))
			return
		}
		if err := q.jobs.IncrementProcessed(ctx, job.ID, len(batch)); err != nil {
			log.Printf("job %d: increment processed: %v", job.ID, err)
		}
	}

	if err := q.jobs.MarkCompleted(ctx, job.ID); err != nil {
		log.Printf("job %d: mark completed: %v", job.ID, err)
		return
	}
	log.Printf("job %d completed for video %d", job.ID, job.VideoID)

	if result, err := q.matcher.AutoMatchVideo(ctx, job.VideoID); err != nil {
		// Matching can be re-run manually; the extracted detections are safe.
		log.Printf("job %d: auto match video %d: %v", job.ID, job.VideoID, err)
	} else {
		log.Printf("video %d matched: %d detections, %d auto-tagged creators, %d no match, %d for review",
			job.VideoID, result.Detections, len(result.AutoTagged), result.NoMatch, result.PendingReview)
	}

	frames.Cleanup(job.FrameDir, frames.CleanupOptions{RemoveDir: true})
}

// detectBatch runs one batch of frames against the detection service with
// bounded concurrency. Any frame error fails the whole batch.
func (q *Queue) detectBatch(
	ctx context.Context, videoID int64, batch []frames.Frame,
) ([]database.Detection, error) {
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		detections []database.Detection
		firstErr   error
	)
	sem := make(chan struct{}, q.opts.BatchSize)

	for i := range batch {
		frame := batch[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := q.detector.DetectFile(ctx, frame.Path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("detect frame %s: %w", filepath.Base(frame.Path), err)
				}
				return
			}
			// Zero faces in a frame is normal, not an error.
			for _, face := range result.Faces {
				detections = append(detections, database.Detection{
					VideoID:   videoID,
					Timestamp: frame.Timestamp,
					BBox:      face.BBox[:],
					DetScore:  face.DetScore,
					Embedding: face.Embedding,
					Age:       face.Age,
					Gender:    face.Gender,
				})
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Timestamp < detections[j].Timestamp
	})
	return detections, nil
}

// failOrRequeue retries the job after the fixed retry interval, or fails it
// and releases its frames. Retries stop early when the detection service
// reported a non-transient error: bad input stays bad on every attempt.
func (q *Queue) failOrRequeue(ctx context.Context, job *database.ExtractionJob, cause error) {
	var detErr *faceapi.DetectionError
	permanent := errors.As(cause, &detErr) && !detErr.Transient

	if permanent || job.RetryCount+1 > q.opts.MaxRetries {
		log.Printf("job %d failed after %d retries: %v", job.ID, job.RetryCount, cause)
		if err := q.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
			log.Printf("job %d: mark failed: %v", job.ID, err)
		}
		frames.Cleanup(job.FrameDir, frames.CleanupOptions{RemoveDir: true})
		return
	}

	nextAttempt := time.Now().Add(q.opts.RetryInterval)
	log.Printf("job %d will retry at %s: %v", job.ID, nextAttempt.Format(time.RFC3339), cause)
	if err := q.jobs.Requeue(ctx, job.ID, cause.Error(), nextAttempt); err != nil {
		log.Printf("job %d: requeue: %v", job.ID, err)
	}
}

// ClearQueue cancels all pending and processing jobs and releases their
// frame directories. In-flight detection calls finish but their results are
// discarded.
func (q *Queue) ClearQueue(ctx context.Context) (int, error) {
	cleared, err := q.jobs.ClearActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	for _, job := range cleared {
		frames.Cleanup(job.FrameDir, frames.CleanupOptions{RemoveDir: true})
	}
	log.Printf("cleared %d jobs from extraction queue", len(cleared))
	return len(cleared), nil
}

// QueueStatus is a snapshot of the queue for status displays.
type QueueStatus struct {
	Active []database.ExtractionJob `json:"active"`
	Recent []database.ExtractionJob `json:"recent"`
}

// Status returns the current queue snapshot.
func (q *Queue) Status(ctx context.Context) (*QueueStatus, error) {
	active, err := q.jobs.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("query active jobs: %w", err)
	}
	recent, err := q.jobs.Recent(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	return &QueueStatus{Active: active, Recent: recent}, nil
}

func (q *Queue) listFrames(frameDir string) ([]frames.Frame, error) {
	entries, err := filepath.Glob(filepath.Join(frameDir, "frame_*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)

	frameList := make([]frames.Frame, len(entries))
	for i, path := range entries {
		frameList[i] = frames.Frame{
			Path:      path,
			Timestamp: float64(i) * q.opts.FrameInterval,
			Index:     i,
		}
	}
	return frameList, nil
}
