package frames

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindClosestFrame(t *testing.T) {
	frames := []Frame{
		{Path: "frame_000000.jpg", Timestamp: 0},
		{Path: "frame_000001.jpg", Timestamp: 10},
		{Path: "frame_000002.jpg", Timestamp: 20},
		{Path: "frame_000003.jpg", Timestamp: 30},
	}

	tests := []struct {
		name         string
		target       float64
		maxDeviation float64
		wantPath     string
		wantNil      bool
	}{
		{"exact hit", 20, 5, "frame_000002.jpg", false},
		{"rounds to nearest", 12, 5, "frame_000001.jpg", false},
		{"boundary deviation accepted", 25, 5, "frame_000002.jpg", false},
		{"outside deviation", 50, 5, "", true},
		{"start of video", 1, 5, "frame_000000.jpg", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindClosestFrame(frames, tt.target, tt.maxDeviation)
			if tt.wantNil {
				if got != nil {
					t.Errorf("expected nil, got %q", got.Path)
				}
				return
			}
			if got == nil {
				t.Fatal("expected a frame, got nil")
			}
			if got.Path != tt.wantPath {
				t.Errorf("expected %q, got %q", tt.wantPath, got.Path)
			}
		})
	}
}

func TestFindClosestFrameEmpty(t *testing.T) {
	if got := FindClosestFrame(nil, 10, 5); got != nil {
		t.Errorf("expected nil for empty frame list, got %v", got)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	frameDir := filepath.Join(dir, "frames-1-test")
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"frame_000000.jpg", "frame_000001.jpg"} {
		if err := os.WriteFile(filepath.Join(frameDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	Cleanup(frameDir, CleanupOptions{RemoveDir: false})

	entries, err := os.ReadDir(frameDir)
	if err != nil {
		t.Fatalf("frame dir should survive without RemoveDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty dir, found %d entries", len(entries))
	}

	Cleanup(frameDir, CleanupOptions{RemoveDir: true})
	if _, err := os.Stat(frameDir); !os.IsNotExist(err) {
		t.Errorf("expected frame dir removed, stat err = %v", err)
	}
}

func TestCleanupMissingDir(t *testing.T) {
	// Must not panic or create anything.
	Cleanup(filepath.Join(t.TempDir(), "does-not-exist"), CleanupOptions{RemoveDir: true})
}
