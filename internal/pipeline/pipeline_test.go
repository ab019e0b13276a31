package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/frames"
)

type fakeExtractor struct {
	result *frames.ExtractResult
	err    error
}

func (f *fakeExtractor) Extract(
	ctx context.Context, videoID int64, videoPath string, duration, interval float64,
) (*frames.ExtractResult, error) {
	return f.result, f.err
}

type fakeEnqueuer struct {
	job *database.ExtractionJob
	err error

	gotVideoID    int64
	gotFrameCount int
	gotFrameDir   string
}

func (f *fakeEnqueuer) QueueExtraction(
	ctx context.Context, videoID int64, frameCount int, frameDir string,
) (*database.ExtractionJob, error) {
	f.gotVideoID = videoID
	f.gotFrameCount = frameCount
	f.gotFrameDir = frameDir
	return f.job, f.err
}

func makeFrameDir(t *testing.T, count int) (string, []frames.Frame) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "frames-1-test")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 32, 18))
	for y := 0; y < 18; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{100, 100, 100, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}

	var frameList []frames.Frame
	for i := 0; i < count; i++ {
		path := filepath.Join(dir, "frame_"+string(rune('0'+i))+".jpg")
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		frameList = append(frameList, frames.Frame{Path: path, Timestamp: float64(i) * 10, Index: i})
	}
	return dir, frameList
}

func testOptions(t *testing.T) Options {
	return Options{
		FrameInterval:       10,
		ThumbnailPosPct:     20,
		ThumbnailMaxSize:    320,
		StoryboardColumns:   5,
		StoryboardTileWidth: 160,
		MediaDir:            t.TempDir(),
	}
}

func TestProcessVideo(t *testing.T) {
	dir, frameList := makeFrameDir(t, 5)
	extractor := &fakeExtractor{result: &frames.ExtractResult{
		Frames: frameList, FrameDir: dir, Expected: 5,
	}}
	queue := &fakeEnqueuer{job: &database.ExtractionJob{ID: 1, VideoID: 10}}
	opts := testOptions(t)
	p := NewProcessor(extractor, queue, opts)

	job, err := p.ProcessVideo(context.Background(), 10, "/videos/a.mp4", 50)
	if err != nil {
		t.Fatalf("ProcessVideo failed: %v", err)
	}
	if job.ID != 1 {
		t.Errorf("expected queued job returned")
	}
	if queue.gotVideoID != 10 || queue.gotFrameCount != 5 || queue.gotFrameDir != dir {
		t.Errorf("queue received wrong handoff: video=%d count=%d dir=%q",
			queue.gotVideoID, queue.gotFrameCount, queue.gotFrameDir)
	}

	// Thumbnail and storyboard written to the media dir.
	if _, err := os.Stat(filepath.Join(opts.MediaDir, "thumb_10.jpg")); err != nil {
		t.Errorf("expected thumbnail written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(opts.MediaDir, "storyboard_10.jpg")); err != nil {
		t.Errorf("expected storyboard written: %v", err)
	}

	// Once the queue accepted the frames, the dir stays for the queue.
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("frame dir must survive queue handoff: %v", err)
	}
}

func TestProcessVideoExtractFailure(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("ffmpeg failed")}
	p := NewProcessor(extractor, &fakeEnqueuer{}, testOptions(t))

	if _, err := p.ProcessVideo(context.Background(), 10, "/videos/a.mp4", 50); err == nil {
		t.Error("expected extraction error to propagate")
	}
}

func TestProcessVideoQueueRejectionCleansUp(t *testing.T) {
	dir, frameList := makeFrameDir(t, 3)
	extractor := &fakeExtractor{result: &frames.ExtractResult{Frames: frameList, FrameDir: dir}}
	queue := &fakeEnqueuer{err: database.ErrJobActive}
	p := NewProcessor(extractor, queue, testOptions(t))

	_, err := p.ProcessVideo(context.Background(), 10, "/videos/a.mp4", 30)
	if !errors.Is(err, database.ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("frame dir must be removed when the queue rejects the job")
	}
}

func TestProcessVideoMediaFailuresAreNotFatal(t *testing.T) {
	// Frames that are not decodable images: thumbnail and storyboard fail,
	// extraction must still reach the queue.
	dir := filepath.Join(t.TempDir(), "frames-1-bad")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var frameList []frames.Frame
	for i := 0; i < 2; i++ {
		path := filepath.Join(dir, "frame_"+string(rune('0'+i))+".jpg")
		if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
			t.Fatal(err)
		}
		frameList = append(frameList, frames.Frame{Path: path, Timestamp: float64(i) * 10})
	}

	extractor := &fakeExtractor{result: &frames.ExtractResult{Frames: frameList, FrameDir: dir}}
	queue := &fakeEnqueuer{job: &database.ExtractionJob{ID: 2}}
	p := NewProcessor(extractor, queue, testOptions(t))

	if _, err := p.ProcessVideo(context.Background(), 11, "/videos/b.mp4", 20); err != nil {
		t.Fatalf("media failures must not abort processing: %v", err)
	}
	if queue.gotVideoID != 11 {
		t.Errorf("frames must still be queued")
	}
}
