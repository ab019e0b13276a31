// Package frames extracts still frames from videos with ffmpeg.
package frames

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/video-tagger/internal/config"
)

// Frame is a single extracted frame on disk.
type Frame struct {
	Path      string
	Timestamp float64
	Index     int
}

// ExtractResult holds the frames of one extraction run and the temp
// directory they live in. The directory outlives the call; whoever ends up
// owning it is responsible for Cleanup.
type ExtractResult struct {
	Frames   []Frame
	FrameDir string
	Expected int
}

// CleanupOptions controls what Cleanup removes.
type CleanupOptions struct {
	RemoveDir bool
}

// Extractor extracts frames from video files.
type Extractor struct {
	ffmpegPath  string
	tempDir     string
	fallbackDir string
	preset      config.FramePreset
}

// New creates an extractor, resolving ffmpeg from PATH.
func New(tempDir, fallbackDir string, preset config.FramePreset) (*Extractor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return &Extractor{
		ffmpegPath:  ffmpegPath,
		tempDir:     tempDir,
		fallbackDir: fallbackDir,
		preset:      preset,
	}, nil
}

// Extract runs one ffmpeg pass over the video, sampling one frame per
// interval seconds into a fresh temp directory. On ffmpeg failure the
// directory is removed before returning.
func (e *Extractor) Extract(
	ctx context.Context, videoID int64, videoPath string, duration, interval float64,
) (*ExtractResult, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid frame interval %f", interval)
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not accessible: %w", err)
	}

	expected := 0
	if duration > 0 {
		expected = int(math.Ceil(duration / interval))
	}

	frameDir, err := e.makeFrameDir(videoID)
	if err != nil {
		return nil, err
	}

	vf := fmt.Sprintf("fps=1/%g", interval)
	if e.preset.ScaleWidth > 0 {
		vf += fmt.Sprintf(",scale=%d:-1", e.preset.ScaleWidth)
	}
	pattern := filepath.Join(frameDir, "frame_%06d."+e.preset.Format)

	args := []string{
		"-i", videoPath,
		"-vf", vf,
		"-q:v", strconv.Itoa(e.preset.Quality),
		pattern,
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(frameDir)
		return nil, fmt.Errorf("ffmpeg failed: %w (%s)", err, lastLine(stderr.String()))
	}

	frames, err := e.listFrames(frameDir, interval)
	if err != nil {
		_ = os.RemoveAll(frameDir)
		return nil, err
	}

	if expected > 0 && len(frames) < expected {
		log.Printf("video %d: extracted %d of %d expected frames", videoID, len(frames), expected)
	}

	return &ExtractResult{Frames: frames, FrameDir: frameDir, Expected: expected}, nil
}

func (e *Extractor) makeFrameDir(videoID int64) (string, error) {
	name := fmt.Sprintf("frames-%d-%s", videoID, uuid.NewString())

	dir := filepath.Join(e.tempDir, name)
	if err := os.MkdirAll(dir, 0o755); err == nil {
		return dir, nil
	}

	// tempDir is usually tmpfs; fall back to disk when it's unavailable.
	dir = filepath.Join(e.fallbackDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create frame directory: %w", err)
	}
	return dir, nil
}

func (e *Extractor) listFrames(frameDir string, interval float64) ([]Frame, error) {
	entries, err := filepath.Glob(filepath.Join(frameDir, "frame_*."+e.preset.Format))
	if err != nil {
		return nil, fmt.Errorf("could not list frames: %w", err)
	}
	sort.Strings(entries)

	frames := make([]Frame, len(entries))
	for i, path := range entries {
		frames[i] = Frame{
			Path:      path,
			Timestamp: float64(i) * interval,
			Index:     i,
		}
	}
	return frames, nil
}

// Cleanup deletes the extracted frame files, ignoring individual failures.
// A missing directory is a no-op: cleanup may race a queue clear.
func Cleanup(frameDir string, opts CleanupOptions) {
	entries, err := os.ReadDir(frameDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		_ = os.Remove(filepath.Join(frameDir, entry.Name()))
	}
	if opts.RemoveDir {
		_ = os.Remove(frameDir)
	}
}

// FindClosestFrame returns the frame nearest to targetSeconds, or nil if
// none falls within maxDeviation.
func FindClosestFrame(frames []Frame, targetSeconds, maxDeviation float64) *Frame {
	var closest *Frame
	best := maxDeviation
	for i := range frames {
		dev := math.Abs(frames[i].Timestamp - targetSeconds)
		if dev <= best {
			closest = &frames[i]
			best = dev
		}
	}
	return closest
}

// ProbeDuration reads the video duration in seconds via ffprobe.
func ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return 0, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse ffprobe duration: %w", err)
	}
	return duration, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
