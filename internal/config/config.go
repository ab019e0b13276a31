package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

type Config struct {
	FaceService FaceServiceConfig
	Matching    MatchingConfig
	Extraction  ExtractionConfig
	Frames      FramesConfig
	Database    DatabaseConfig
	Library     LibraryConfig
	Presets     PresetsConfig
}

type FaceServiceConfig struct {
	URL string // face detection service base URL (e.g., http://localhost:8100)
	Dim int    // embedding dimension, must match the reference gallery (default 512)
}

type MatchingConfig struct {
	SimilarityThreshold float64 // minimum similarity to consider a candidate (default 0.65)
	AutoTagThreshold    float64 // similarity above which a match is tagged without review (default 0.75)
}

type ExtractionConfig struct {
	BatchSize       int // frames per detection batch (default 10)
	MaxRetries      int // job-level retries before marking failed (default 3)
	RetryIntervalMS int // delay before a failed job is retried (default 300000)
}

type FramesConfig struct {
	TempDir          string  // preferred frame storage (fast storage, e.g. tmpfs)
	FallbackTempDir  string  // used when TempDir is unavailable
	IntervalSeconds  float64 // sampling interval for full video processing (default 10)
	Preset           string  // frame extraction preset name (default "standard")
	ThumbnailPosPct  float64 // position of thumbnail frame as percentage of duration (default 20)
	StoryboardColumn int     // storyboard grid columns (default 5)
	MediaDir         string  // output directory for thumbnails and storyboards
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL for the pipeline store
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist reference gallery HNSW index (optional)
}

type LibraryConfig struct {
	DatabaseURL string // MariaDB DSN for the video library database (videos, creators, tags)
}

type PresetsConfig struct {
	Presets map[string]FramePreset `yaml:"presets"`
}

// FramePreset describes how extracted frames are encoded.
type FramePreset struct {
	Format     string `yaml:"format"`      // jpg or png
	Quality    int    `yaml:"quality"`     // ffmpeg -q:v value for jpg
	ScaleWidth int    `yaml:"scale_width"` // 0 means keep original size
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var presets PresetsConfig
	if err := yaml.Unmarshal(presetsYAML, &presets); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded presets.yaml: " + err.Error())
	}

	return &Config{
		FaceService: FaceServiceConfig{
			URL: envString("FACE_SERVICE_URL", "http://localhost:8100"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Matching: MatchingConfig{
			SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.65),
			AutoTagThreshold:    envFloat("AUTO_TAG_THRESHOLD", 0.75),
		},
		Extraction: ExtractionConfig{
			BatchSize:       envInt("EXTRACTION_BATCH_SIZE", 10),
			MaxRetries:      envInt("EXTRACTION_MAX_RETRIES", 3),
			RetryIntervalMS: envInt("EXTRACTION_RETRY_INTERVAL_MS", 300000),
		},
		Frames: FramesConfig{
			TempDir:          envString("FRAME_TEMP_DIR", "/dev/shm/video-tagger"),
			FallbackTempDir:  envString("FRAME_FALLBACK_TEMP_DIR", os.TempDir()),
			IntervalSeconds:  envFloat("FRAME_INTERVAL_SECONDS", 10),
			Preset:           envString("FRAME_PRESET", "standard"),
			ThumbnailPosPct:  envFloat("THUMBNAIL_POSITION_PCT", 20),
			StoryboardColumn: envInt("STORYBOARD_COLUMNS", 5),
			MediaDir:         envString("MEDIA_DIR", "./media"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Library: LibraryConfig{
			DatabaseURL: os.Getenv("LIBRARY_DATABASE_URL"),
		},
		Presets: presets,
	}
}

// GetFramePreset returns the named frame preset, falling back to "standard".
func (c *Config) GetFramePreset(name string) FramePreset {
	if preset, ok := c.Presets.Presets[name]; ok {
		return preset
	}
	return c.Presets.Presets["standard"]
}

// RetryInterval returns the configured retry delay as a duration.
func (c *ExtractionConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMS) * time.Millisecond
}
