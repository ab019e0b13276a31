package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/video-tagger/internal/frames"
)

var processCmd = &cobra.Command{
	Use:   "process <video-id>",
	Short: "Extract frames from a video and run face detection",
	Long: `Process a single video: extract frames, generate thumbnail and
storyboard, run face detection over the frames and match the results
against the reference galleries.

Example:
  video-tagger process 1234`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().Bool("wait", true, "Run the extraction job to completion instead of just queueing it")
}

func runProcess(cmd *cobra.Command, args []string) error {
	videoID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || videoID <= 0 {
		return fmt.Errorf("invalid video id %q", args[0])
	}

	ctx := context.Background()
	app, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	video, err := app.lib.GetVideo(ctx, videoID)
	if err != nil {
		return fmt.Errorf("video %d: %w", videoID, err)
	}

	// The library sometimes has no duration for freshly imported videos.
	duration := video.Duration
	if duration <= 0 {
		duration, err = frames.ProbeDuration(ctx, video.Path)
		if err != nil {
			return fmt.Errorf("video %d has no duration in the library: %w", videoID, err)
		}
		fmt.Printf("Probed duration: %.1fs\n", duration)
	}

	fmt.Printf("Processing video %d (%s)...\n", video.ID, video.Path)
	job, err := app.processor.ProcessVideo(ctx, video.ID, video.Path, duration)
	if err != nil {
		return err
	}
	fmt.Printf("Queued extraction job %d with %d frames\n", job.ID, job.TotalFrames)

	if !mustGetBool(cmd, "wait") {
		return nil
	}

	for {
		processed, err := app.queue.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !processed {
			break
		}
	}

	final, err := app.jobs.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Job %d finished with status %s (%d/%d frames)\n",
		final.ID, final.Status, final.ProcessedFrames, final.TotalFrames)
	if final.LastError != "" {
		fmt.Printf("Last error: %s\n", final.LastError)
	}
	return nil
}
