package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/library"
)

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Manage creator reference galleries",
}

var referenceAddCmd = &cobra.Command{
	Use:   "add <creator> <image-or-directory>",
	Short: "Register reference images for a creator",
	Long: `Register one reference image, or every image in a directory, for a
creator. The creator may be given by ID or by name. Each image must
contain exactly one face.

Examples:
  video-tagger reference add 12 face.jpg --primary
  video-tagger reference add "Jane Doe" ./reference-photos/`,
	Args: cobra.ExactArgs(2),
	RunE: runReferenceAdd,
}

var referenceListCmd = &cobra.Command{
	Use:   "list <creator>",
	Short: "List a creator's reference embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runReferenceList,
}

var referencePromoteCmd = &cobra.Command{
	Use:   "promote <detection-id> <creator-id>",
	Short: "Promote a video-frame detection into a reference embedding",
	Args:  cobra.ExactArgs(2),
	RunE:  runReferencePromote,
}

func init() {
	rootCmd.AddCommand(referenceCmd)
	referenceCmd.AddCommand(referenceAddCmd)
	referenceCmd.AddCommand(referenceListCmd)
	referenceCmd.AddCommand(referencePromoteCmd)

	referenceAddCmd.Flags().Bool("primary", false, "Mark the reference as the creator's primary embedding")
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return id, nil
}

// resolveCreator accepts either a numeric creator ID or a creator name.
// Name lookup ignores case, diacritics and dashes.
func resolveCreator(ctx context.Context, app *app, arg string) (*library.Creator, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil && id > 0 {
		return app.lib.GetCreator(ctx, id)
	}
	return app.lib.FindCreatorByName(ctx, arg)
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func runReferenceAdd(cmd *cobra.Command, args []string) error {
	primary := mustGetBool(cmd, "primary")

	ctx := context.Background()
	app, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	creator, err := resolveCreator(ctx, app, args[0])
	if err != nil {
		return fmt.Errorf("creator %q: %w", args[0], err)
	}
	creatorID := creator.ID

	info, err := os.Stat(args[1])
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return addSingleReference(ctx, app, creatorID, args[1], primary)
	}

	entries, err := os.ReadDir(args[1])
	if err != nil {
		return err
	}
	var images []string
	for _, entry := range entries {
		if !entry.IsDir() && isImageFile(entry.Name()) {
			images = append(images, filepath.Join(args[1], entry.Name()))
		}
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s", args[1])
	}

	fmt.Printf("Importing %d reference images for %s\n", len(images), creator.Name)
	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("Importing references"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	// Only the first image of a directory import can be primary.
	added, failed := 0, 0
	for i, path := range images {
		if err := addReferenceImage(ctx, app, creatorID, path, primary && i == 0); err != nil {
			fmt.Printf("\n%s: %v\n", filepath.Base(path), err)
			failed++
		} else {
			added++
		}
		bar.Add(1)
	}
	fmt.Printf("\nAdded %d references (%d failed)\n", added, failed)
	return nil
}

func addSingleReference(ctx context.Context, app *app, creatorID int64, path string, primary bool) error {
	if err := addReferenceImage(ctx, app, creatorID, path, primary); err != nil {
		return err
	}
	fmt.Printf("Reference added from %s\n", filepath.Base(path))
	return nil
}

func addReferenceImage(ctx context.Context, app *app, creatorID int64, path string, primary bool) error {
	imageData, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = app.engine.AddReference(ctx, creatorID, imageData, database.ReferenceSourceManual, primary)
	return err
}

func runReferenceList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	creator, err := resolveCreator(ctx, app, args[0])
	if err != nil {
		return fmt.Errorf("creator %q: %w", args[0], err)
	}

	refs, err := app.refs.GetByCreator(ctx, creator.ID)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Println("No references")
		return nil
	}

	for _, ref := range refs {
		line := fmt.Sprintf("  %d  %s  score %.2f", ref.ID, ref.Source, ref.DetScore)
		if ref.IsPrimary {
			line += "  [primary]"
		}
		if ref.SourceVideoID != nil {
			line += fmt.Sprintf("  (video %d @ %.1fs)", *ref.SourceVideoID, *ref.SourceTimestamp)
		}
		fmt.Println(line)
	}
	return nil
}

func runReferencePromote(cmd *cobra.Command, args []string) error {
	detectionID, err := parseID(args[0], "detection id")
	if err != nil {
		return err
	}
	creatorID, err := parseID(args[1], "creator id")
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	ref, err := app.engine.PromoteDetection(ctx, detectionID, creatorID)
	if err != nil {
		return err
	}
	fmt.Printf("Detection %d promoted to reference %d for creator %d\n", detectionID, ref.ID, creatorID)
	return nil
}
