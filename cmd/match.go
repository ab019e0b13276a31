package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match <video-id>",
	Short: "Match a video's pending detections against the reference galleries",
	Long: `Re-run matching for a video's pending face detections. High-confidence
groups tag the creator automatically, lower-confidence groups are left
for manual review.

Example:
  video-tagger match 1234`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	videoID, err := parseID(args[0], "video id")
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.lib.GetVideo(ctx, videoID); err != nil {
		return fmt.Errorf("video %d: %w", videoID, err)
	}

	result, err := app.engine.AutoMatchVideo(ctx, videoID)
	if err != nil {
		return err
	}

	fmt.Printf("Matched %d detections\n", result.Detections)
	fmt.Printf("  No match:       %d\n", result.NoMatch)
	fmt.Printf("  Pending review: %d\n", result.PendingReview)
	if len(result.AutoTagged) > 0 {
		fmt.Printf("  Auto-tagged creators:")
		for _, creatorID := range result.AutoTagged {
			creator, err := app.lib.GetCreator(ctx, creatorID)
			if err != nil {
				fmt.Printf(" %d", creatorID)
				continue
			}
			fmt.Printf(" %s", creator.Name)
		}
		fmt.Println()
	}
	return nil
}
