package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or clear the extraction queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active and recent extraction jobs",
	RunE:  runQueueStatus,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Cancel all pending and processing extraction jobs",
	RunE:  runQueueClear,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueClearCmd)
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	status, err := app.queue.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Active jobs: %d\n", len(status.Active))
	for _, job := range status.Active {
		fmt.Printf("  job %d  video %d  %s  %d/%d frames  retries %d\n",
			job.ID, job.VideoID, job.Status, job.ProcessedFrames, job.TotalFrames, job.RetryCount)
	}

	fmt.Printf("Recent jobs:\n")
	for _, job := range status.Recent {
		line := fmt.Sprintf("  job %d  video %d  %s  %d/%d frames",
			job.ID, job.VideoID, job.Status, job.ProcessedFrames, job.TotalFrames)
		if job.LastError != "" {
			line += "  (" + job.LastError + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	cleared, err := app.queue.ClearQueue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Cleared %d jobs\n", cleared)
	return nil
}
