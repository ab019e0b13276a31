package extraction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/database/mock"
	"github.com/kozaktomas/video-tagger/internal/faceapi"
	"github.com/kozaktomas/video-tagger/internal/matching"
)

type fakeDetector struct {
	mu        sync.Mutex
	calls     int
	failFrom  int  // fail calls numbered >= failFrom (1-based), 0 = never
	permanent bool // injected failures are non-transient
	faces     int  // faces returned per frame
}

func (f *fakeDetector) DetectFile(ctx context.Context, path string) (*faceapi.DetectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return nil, &faceapi.DetectionError{Op: "detect", Transient: !f.permanent, Err: errors.New("service down")}
	}
	result := &faceapi.DetectResult{}
	for n := 0; n < f.faces; n++ {
		result.Faces = append(result.Faces, faceapi.Face{
			BBox:      [4]float64{0, 0, 100, 100},
			Embedding: []float32{1, 0, 0, 0},
			DetScore:  0.9,
		})
	}
	return result, nil
}

type fakeMatcher struct {
	mu     sync.Mutex
	videos []int64
	err    error
}

func (f *fakeMatcher) AutoMatchVideo(ctx context.Context, videoID int64) (*matching.AutoMatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.videos = append(f.videos, videoID)
	return &matching.AutoMatchResult{}, nil
}

func writeFrames(t *testing.T, dir string, count int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < count; i++ {
		name := filepath.Join(dir, "frame_"+string(rune('a'+i))+".jpg")
		if err := os.WriteFile(name, []byte("frame"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testQueue(jobs *mock.JobStore, dets *mock.DetectionStore, detector Detector, matcher Matcher) *Queue {
	return NewQueue(jobs, dets, detector, matcher, Options{
		BatchSize:     2,
		MaxRetries:    3,
		RetryInterval: 5 * time.Minute,
		FrameInterval: 10,
	})
}

func TestQueueExtractionRejectsSecondActiveJob(t *testing.T) {
	jobs := mock.NewJobStore()
	q := testQueue(jobs, mock.NewDetectionStore(), &fakeDetector{}, &fakeMatcher{})

	ctx := context.Background()
	if _, err := q.QueueExtraction(ctx, 1, 5, "/tmp/frames-1"); err != nil {
		t.Fatalf("first QueueExtraction failed: %v", err)
	}
	if _, err := q.QueueExtraction(ctx, 1, 5, "/tmp/frames-1b"); !errors.Is(err, database.ErrJobActive) {
		t.Errorf("expected ErrJobActive for second job on same video, got %v", err)
	}
	if _, err := q.QueueExtraction(ctx, 2, 5, "/tmp/frames-2"); err != nil {
		t.Errorf("job for a different video must be accepted, got %v", err)
	}
}

func TestProcessJobCompletes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames-1-x")
	writeFrames(t, dir, 5)

	jobs := mock.NewJobStore()
	dets := mock.NewDetectionStore()
	matcher := &fakeMatcher{}
	q := testQueue(jobs, dets, &fakeDetector{faces: 1}, matcher)

	ctx := context.Background()
	if _, err := q.QueueExtraction(ctx, 42, 5, dir); err != nil {
		t.Fatal(err)
	}
	job, err := jobs.NextReady(ctx)
	if err != nil {
		t.Fatal(err)
	}

	q.processJob(ctx, job)

	final, _ := jobs.Get(ctx, job.ID)
	if final.Status != database.JobStatusCompleted {
		t.Errorf("expected completed, got %s (%s)", final.Status, final.LastError)
	}
	if final.ProcessedFrames != 5 {
		t.Errorf("expected 5 processed frames, got %d", final.ProcessedFrames)
	}

	count, _ := dets.CountByVideo(ctx, 42)
	if count != 5 {
		t.Errorf("expected 5 detections, got %d", count)
	}
	if len(matcher.videos) != 1 || matcher.videos[0] != 42 {
		t.Errorf("matcher should run once for video 42, got %v", matcher.videos)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("frame dir should be released after completion")
	}
}

func TestProcessJobZeroFacesIsNotAnError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames-7-x")
	writeFrames(t, dir, 3)

	jobs := mock.NewJobStore()
	dets := mock.NewDetectionStore()
	q := testQueue(jobs, dets, &fakeDetector{faces: 0}, &fakeMatcher{})

	ctx := context.Background()
	q.QueueExtraction(ctx, 7, 3, dir)
	job, _ := jobs.NextReady(ctx)

	q.processJob(ctx, job)

	final, _ := jobs.Get(ctx, job.ID)
	if final.Status != database.JobStatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	count, _ := dets.CountByVideo(ctx, 7)
	if count != 0 {
		t.Errorf("expected no detections, got %d", count)
	}
}

func TestProcessJobRequeuesOnBatchFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames-9-x")
	writeFrames(t, dir, 4)

	jobs := mock.NewJobStore()
	dets := mock.NewDetectionStore()
	// First batch (2 frames) succeeds, third call fails.
	q := testQueue(jobs, dets, &fakeDetector{faces: 1, failFrom: 3}, &fakeMatcher{})

	ctx := context.Background()
	q.QueueExtraction(ctx, 9, 4, dir)
	job, _ := jobs.NextReady(ctx)

	q.processJob(ctx, job)

	final, _ := jobs.Get(ctx, job.ID)
	if final.Status != database.JobStatusPending {
		t.Fatalf("expected job requeued as pending, got %s", final.Status)
	}
	if final.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", final.RetryCount)
	}
	if !final.NextAttemptAt.After(time.Now().Add(4 * time.Minute)) {
		t.Errorf("next attempt should honor the retry interval, got %s", final.NextAttemptAt)
	}

	// Detections from the successful first batch are kept.
	count, _ := dets.CountByVideo(ctx, 9)
	if count != 2 {
		t.Errorf("expected 2 persisted detections from the first batch, got %d", count)
	}
	if final.ProcessedFrames != 2 {
		t.Errorf("expected 2 processed frames, got %d", final.ProcessedFrames)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("frame dir must survive a requeue: %v", err)
	}
}

func TestProcessJobFailsAfterMaxRetries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames-11-x")
	writeFrames(t, dir, 2)

	jobs := mock.NewJobStore()
	// Zero retry interval so requeued jobs are immediately claimable.
	q := NewQueue(jobs, mock.NewDetectionStore(), &fakeDetector{failFrom: 1}, &fakeMatcher{}, Options{
		BatchSize:     2,
		MaxRetries:    3,
		RetryInterval: 0,
		FrameInterval: 10,
	})

	ctx := context.Background()
	q.QueueExtraction(ctx, 11, 2, dir)

	var jobID int64
	for n := 0; n < 4; n++ {
		job, err := jobs.NextReady(ctx)
		if err != nil {
			t.Fatalf("job should be ready: %v", err)
		}
		jobID = job.ID
		q.processJob(ctx, job)
	}

	final, _ := jobs.Get(ctx, jobID)
	if final.Status != database.JobStatusFailed {
		t.Fatalf("expected failed after retries exhausted, got %s", final.Status)
	}
	if final.LastError == "" {
		t.Errorf("failed job must retain its last error")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("frame dir should be released when the job fails")
	}
}

func TestProcessJobFailsFastOnPermanentError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames-13-x")
	writeFrames(t, dir, 2)

	jobs := mock.NewJobStore()
	q := testQueue(jobs, mock.NewDetectionStore(), &fakeDetector{failFrom: 1, permanent: true}, &fakeMatcher{})

	ctx := context.Background()
	q.QueueExtraction(ctx, 13, 2, dir)
	job, _ := jobs.NextReady(ctx)

	q.processJob(ctx, job)

	final, _ := jobs.Get(ctx, job.ID)
	if final.Status != database.JobStatusFailed {
		t.Fatalf("non-transient detection error must fail without retries, got %s", final.Status)
	}
	if final.RetryCount != 0 {
		t.Errorf("expected no retries for a non-transient error, got %d", final.RetryCount)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("frame dir should be released when the job fails")
	}
}

func TestClearQueue(t *testing.T) {
	pendingDir := filepath.Join(t.TempDir(), "frames-20-x")
	writeFrames(t, pendingDir, 1)
	processingDir := filepath.Join(t.TempDir(), "frames-21-x")
	writeFrames(t, processingDir, 1)

	jobs := mock.NewJobStore()
	q := testQueue(jobs, mock.NewDetectionStore(), &fakeDetector{}, &fakeMatcher{})

	ctx := context.Background()
	q.QueueExtraction(ctx, 20, 1, pendingDir)
	q.QueueExtraction(ctx, 21, 1, processingDir)

	// Move the second job to processing before the clear.
	if _, err := jobs.NextReady(ctx); err != nil {
		t.Fatal(err)
	}

	cleared, err := q.ClearQueue(ctx)
	if err != nil {
		t.Fatalf("ClearQueue failed: %v", err)
	}
	if cleared != 2 {
		t.Errorf("expected 2 cleared jobs, got %d", cleared)
	}

	active, _ := jobs.Active(ctx)
	if len(active) != 0 {
		t.Errorf("no active jobs should remain after clear, got %d", len(active))
	}
	for _, dir := range []string{pendingDir, processingDir} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("frame dir %s should be released by clear", dir)
		}
	}
}

func TestProcessJobDiscardsResultsAfterClear(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames-30-x")
	writeFrames(t, dir, 2)

	jobs := mock.NewJobStore()
	dets := mock.NewDetectionStore()
	q := testQueue(jobs, dets, &fakeDetector{faces: 1}, &fakeMatcher{})

	ctx := context.Background()
	q.QueueExtraction(ctx, 30, 2, dir)
	job, _ := jobs.NextReady(ctx)

	// Simulate a queue clear while the batch is in flight.
	jobs.MarkSkipped(ctx, job.ID, "queue cleared")

	q.processJob(ctx, job)

	count, _ := dets.CountByVideo(ctx, 30)
	if count != 0 {
		t.Errorf("detections from a cleared job must be discarded, got %d", count)
	}
	final, _ := jobs.Get(ctx, job.ID)
	if final.Status != database.JobStatusSkipped {
		t.Errorf("cleared job must stay skipped, got %s", final.Status)
	}
}
