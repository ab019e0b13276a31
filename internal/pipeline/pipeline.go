// Package pipeline orchestrates video processing: frame extraction,
// thumbnail and storyboard generation, and extraction queue handoff.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/frames"
	"github.com/kozaktomas/video-tagger/internal/media"
)

// FrameExtractor extracts frames from a video file.
type FrameExtractor interface {
	Extract(ctx context.Context, videoID int64, videoPath string, duration, interval float64) (*frames.ExtractResult, error)
}

// Enqueuer accepts extracted frames for background face detection.
type Enqueuer interface {
	QueueExtraction(ctx context.Context, videoID int64, frameCount int, frameDir string) (*database.ExtractionJob, error)
}

// Options configure the processor.
type Options struct {
	// FrameInterval is the sampling interval in seconds.
	FrameInterval float64
	// ThumbnailPosPct picks the thumbnail frame at this percentage of the
	// video duration.
	ThumbnailPosPct float64
	// ThumbnailMaxSize bounds the thumbnail's longer edge in pixels.
	ThumbnailMaxSize int
	// StoryboardColumns is the storyboard grid width.
	StoryboardColumns int
	// StoryboardTileWidth is the width of one storyboard cell in pixels.
	StoryboardTileWidth int
	// MediaDir receives generated thumbnails and storyboards.
	MediaDir string
}

// Processor runs the per-video processing pipeline.
type Processor struct {
	extractor FrameExtractor
	queue     Enqueuer
	opts      Options
}

// NewProcessor creates a video processor.
func NewProcessor(extractor FrameExtractor, queue Enqueuer, opts Options) *Processor {
	return &Processor{extractor: extractor, queue: queue, opts: opts}
}

// ProcessVideo extracts frames, generates thumbnail and storyboard, and
// queues the frames for face extraction. Thumbnail and storyboard failures
// are logged, never fatal. The temp frame directory belongs to the
// orchestrator until the queue accepts the job; on any earlier failure it is
// removed here.
func (p *Processor) ProcessVideo(ctx context.Context, videoID int64, path string, duration float64) (*database.ExtractionJob, error) {
	result, err := p.extractor.Extract(ctx, videoID, path, duration, p.opts.FrameInterval)
	if err != nil {
		return nil, fmt.Errorf("extract frames: %w", err)
	}

	p.generateThumbnail(videoID, result.Frames, duration)
	p.generateStoryboard(videoID, result.Frames)

	job, err := p.queue.QueueExtraction(ctx, videoID, len(result.Frames), result.FrameDir)
	if err != nil {
		// The queue did not accept the frames; they are still ours to clean.
		frames.Cleanup(result.FrameDir, frames.CleanupOptions{RemoveDir: true})
		return nil, fmt.Errorf("queue extraction: %w", err)
	}
	return job, nil
}

func (p *Processor) generateThumbnail(videoID int64, frameList []frames.Frame, duration float64) {
	target := duration * p.opts.ThumbnailPosPct / 100
	frame := frames.FindClosestFrame(frameList, target, p.opts.FrameInterval)
	if frame == nil {
		log.Printf("video %d: no frame near %.1fs for thumbnail", videoID, target)
		return
	}

	data, err := media.ThumbnailFromFrame(frame.Path, p.opts.ThumbnailMaxSize)
	if err != nil {
		log.Printf("video %d: thumbnail generation failed: %v", videoID, err)
		return
	}

	out := filepath.Join(p.opts.MediaDir, fmt.Sprintf("thumb_%d.jpg", videoID))
	if err := p.writeMedia(out, data); err != nil {
		log.Printf("video %d: write thumbnail: %v", videoID, err)
	}
}

func (p *Processor) generateStoryboard(videoID int64, frameList []frames.Frame) {
	board, err := media.ComposeStoryboard(frameList, p.opts.StoryboardColumns, p.opts.StoryboardTileWidth)
	if err != nil {
		log.Printf("video %d: storyboard generation failed: %v", videoID, err)
		return
	}

	out := filepath.Join(p.opts.MediaDir, fmt.Sprintf("storyboard_%d.jpg", videoID))
	if err := p.writeMedia(out, board.Image); err != nil {
		log.Printf("video %d: write storyboard: %v", videoID, err)
	}
}

func (p *Processor) writeMedia(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
