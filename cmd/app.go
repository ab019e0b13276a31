package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/video-tagger/internal/config"
	"github.com/kozaktomas/video-tagger/internal/database/postgres"
	"github.com/kozaktomas/video-tagger/internal/extraction"
	"github.com/kozaktomas/video-tagger/internal/faceapi"
	"github.com/kozaktomas/video-tagger/internal/frames"
	"github.com/kozaktomas/video-tagger/internal/library"
	"github.com/kozaktomas/video-tagger/internal/matching"
	"github.com/kozaktomas/video-tagger/internal/pipeline"
)

const (
	thumbnailMaxSize    = 480
	storyboardTileWidth = 160
)

// app bundles the wired-up components shared by the CLI commands.
type app struct {
	cfg       *config.Config
	pool      *postgres.Pool
	refs      *postgres.ReferenceRepository
	dets      *postgres.DetectionRepository
	jobs      *postgres.JobRepository
	lib       *library.Store
	detector  *faceapi.Client
	engine    *matching.Engine
	queue     *extraction.Queue
	processor *pipeline.Processor
}

// newApp connects to both databases and wires the pipeline components.
// With hnsw set, the in-memory gallery index is built for fast matching.
func newApp(ctx context.Context, hnsw bool) (*app, error) {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Library.DatabaseURL == "" {
		return nil, errors.New("LIBRARY_DATABASE_URL environment variable is required")
	}

	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	pool := postgres.GetGlobalPool()

	lib, err := library.NewStore(cfg.Library.DatabaseURL)
	if err != nil {
		return nil, err
	}

	detector, err := faceapi.NewClient(cfg.FaceService.URL)
	if err != nil {
		return nil, err
	}

	refs := postgres.NewReferenceRepository(pool)
	dets := postgres.NewDetectionRepository(pool)
	jobs := postgres.NewJobRepository(pool)

	if hnsw {
		if err := refs.EnableHNSW(ctx, cfg.Database.HNSWIndexPath); err != nil {
			fmt.Printf("Warning: failed to build gallery HNSW index: %v\n", err)
			fmt.Printf("Matching will use PostgreSQL queries (slower)\n")
		} else {
			fmt.Printf("Gallery HNSW index ready with %d references\n", refs.HNSWCount())
		}
	}

	engine := matching.NewEngine(refs, dets, lib, detector, matching.Options{
		SimilarityThreshold: cfg.Matching.SimilarityThreshold,
		AutoTagThreshold:    cfg.Matching.AutoTagThreshold,
		EmbeddingDim:        cfg.FaceService.Dim,
	})

	queue := extraction.NewQueue(jobs, dets, detector, engine, extraction.Options{
		BatchSize:     cfg.Extraction.BatchSize,
		MaxRetries:    cfg.Extraction.MaxRetries,
		RetryInterval: cfg.Extraction.RetryInterval(),
		FrameInterval: cfg.Frames.IntervalSeconds,
	})

	extractor, err := frames.New(
		cfg.Frames.TempDir, cfg.Frames.FallbackTempDir, cfg.GetFramePreset(cfg.Frames.Preset),
	)
	if err != nil {
		return nil, err
	}

	processor := pipeline.NewProcessor(extractor, queue, pipeline.Options{
		FrameInterval:       cfg.Frames.IntervalSeconds,
		ThumbnailPosPct:     cfg.Frames.ThumbnailPosPct,
		ThumbnailMaxSize:    thumbnailMaxSize,
		StoryboardColumns:   cfg.Frames.StoryboardColumn,
		StoryboardTileWidth: storyboardTileWidth,
		MediaDir:            cfg.Frames.MediaDir,
	})

	return &app{
		cfg:       cfg,
		pool:      pool,
		refs:      refs,
		dets:      dets,
		jobs:      jobs,
		lib:       lib,
		detector:  detector,
		engine:    engine,
		queue:     queue,
		processor: processor,
	}, nil
}

// Close releases the database connections.
func (a *app) Close() {
	_ = a.lib.Close()
	_ = a.pool.Close()
}
