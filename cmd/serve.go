package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/video-tagger/internal/faceapi"
	"github.com/kozaktomas/video-tagger/internal/web"
	"github.com/kozaktomas/video-tagger/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the extraction worker",
	Long: `Start the Video Tagger API server together with the background
extraction worker that processes queued videos.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.detector.CheckDimension(ctx, app.cfg.FaceService.Dim); err != nil {
		if !faceapi.IsTransient(err) {
			// A wrong embedding dimension would poison every match.
			return fmt.Errorf("face service check: %w", err)
		}
		fmt.Printf("Warning: face service unreachable, continuing: %v\n", err)
	}

	// Background extraction worker.
	go app.queue.Start(ctx)

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(host, port, &handlers.Deps{
		Processor: app.processor,
		Queue:     app.queue,
		Matcher:   app.engine,
		Detector:  app.detector,
		Library:   app.lib,
		Refs:      app.refs,
		Dets:      app.dets,
		Jobs:      app.jobs,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		if err := app.refs.SaveHNSWIndex(); err != nil {
			fmt.Printf("Warning: failed to save gallery HNSW index: %v\n", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Video Tagger API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
