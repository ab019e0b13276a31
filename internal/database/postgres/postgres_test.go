//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/video-tagger/internal/config"
	"github.com/kozaktomas/video-tagger/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func testEmbedding(seed int) []float32 {
	emb := make([]float32, 512)
	for i := range emb {
		emb[i] = float32(i+seed) / 512.0
	}
	return emb
}

func TestReferenceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewReferenceRepository(pool)

	t.Run("SaveAndGet", func(t *testing.T) {
		ref := &database.ReferenceEmbedding{
			CreatorID: 42,
			Embedding: testEmbedding(0),
			Source:    database.ReferenceSourceManual,
			DetScore:  0.95,
			IsPrimary: true,
		}

		id, err := repo.Save(ctx, ref)
		if err != nil {
			t.Fatalf("Failed to save reference: %v", err)
		}

		got, err := repo.Get(ctx, id)
		if err != nil {
			t.Fatalf("Failed to get reference: %v", err)
		}
		if got.CreatorID != 42 {
			t.Errorf("Expected CreatorID 42, got %d", got.CreatorID)
		}
		if got.Source != database.ReferenceSourceManual {
			t.Errorf("Expected source 'manual', got '%s'", got.Source)
		}
		if !got.IsPrimary {
			t.Error("Expected primary reference")
		}
		if len(got.Embedding) != 512 {
			t.Errorf("Expected 512 dimensions, got %d", len(got.Embedding))
		}
	})

	t.Run("PrimaryIsExclusive", func(t *testing.T) {
		second := &database.ReferenceEmbedding{
			CreatorID: 42,
			Embedding: testEmbedding(3),
			Source:    database.ReferenceSourceManual,
			DetScore:  0.9,
			IsPrimary: true,
		}
		secondID, err := repo.Save(ctx, second)
		if err != nil {
			t.Fatalf("Failed to save second reference: %v", err)
		}

		refs, err := repo.GetByCreator(ctx, 42)
		if err != nil {
			t.Fatalf("Failed to get references by creator: %v", err)
		}
		if len(refs) != 2 {
			t.Fatalf("Expected 2 references, got %d", len(refs))
		}
		primaries := 0
		for _, r := range refs {
			if r.IsPrimary {
				primaries++
				if r.ID != secondID {
					t.Errorf("Expected reference %d to be primary, got %d", secondID, r.ID)
				}
			}
		}
		if primaries != 1 {
			t.Errorf("Expected exactly 1 primary reference, got %d", primaries)
		}
	})

	t.Run("SetPrimary", func(t *testing.T) {
		refs, _ := repo.GetByCreator(ctx, 42)
		var nonPrimary int64
		for _, r := range refs {
			if !r.IsPrimary {
				nonPrimary = r.ID
			}
		}

		if err := repo.SetPrimary(ctx, nonPrimary); err != nil {
			t.Fatalf("Failed to set primary: %v", err)
		}

		got, _ := repo.Get(ctx, nonPrimary)
		if !got.IsPrimary {
			t.Error("Expected reference to be primary after SetPrimary")
		}

		if err := repo.SetPrimary(ctx, 999999); err != database.ErrNotFound {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FindSimilar", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			repo.Save(ctx, &database.ReferenceEmbedding{
				CreatorID: int64(100 + i),
				Embedding: testEmbedding(i * 10),
				Source:    database.ReferenceSourceManual,
				DetScore:  0.9,
			})
		}

		refs, dists, err := repo.FindSimilar(ctx, testEmbedding(0), 3, 1.0)
		if err != nil {
			t.Fatalf("Failed to find similar: %v", err)
		}
		if len(refs) != 3 {
			t.Errorf("Expected 3 results, got %d", len(refs))
		}
		if len(refs) != len(dists) {
			t.Errorf("Results and distances length mismatch: %d vs %d", len(refs), len(dists))
		}
		for i := 1; i < len(dists); i++ {
			if dists[i] < dists[i-1] {
				t.Error("Distances not sorted")
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		ref := &database.ReferenceEmbedding{
			CreatorID: 77,
			Embedding: testEmbedding(7),
			Source:    database.ReferenceSourceManual,
		}
		id, err := repo.Save(ctx, ref)
		if err != nil {
			t.Fatalf("Failed to save reference: %v", err)
		}

		if err := repo.Delete(ctx, id); err != nil {
			t.Fatalf("Failed to delete reference: %v", err)
		}
		if _, err := repo.Get(ctx, id); err != database.ErrNotFound {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestDetectionRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewDetectionRepository(pool)

	t.Run("SaveBatchAndQuery", func(t *testing.T) {
		batch := []database.Detection{
			{
				VideoID:   10,
				Timestamp: 10.0,
				BBox:      []float64{10, 20, 100, 150},
				DetScore:  0.95,
				Embedding: testEmbedding(0),
				Gender:    "F",
			},
			{
				VideoID:   10,
				Timestamp: 20.0,
				BBox:      []float64{200, 50, 300, 200},
				DetScore:  0.88,
				Embedding: testEmbedding(5),
			},
		}

		if err := repo.SaveBatch(ctx, batch); err != nil {
			t.Fatalf("Failed to save batch: %v", err)
		}

		dets, err := repo.PendingByVideo(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to query pending detections: %v", err)
		}
		if len(dets) != 2 {
			t.Fatalf("Expected 2 detections, got %d", len(dets))
		}
		if dets[0].Timestamp != 10.0 {
			t.Errorf("Expected detections ordered by timestamp, got %.1f first", dets[0].Timestamp)
		}
		if dets[0].MatchStatus != database.MatchStatusPending {
			t.Errorf("Expected pending status, got '%s'", dets[0].MatchStatus)
		}
		if len(dets[0].BBox) != 4 {
			t.Errorf("Expected 4 bbox coordinates, got %d", len(dets[0].BBox))
		}

		count, err := repo.CountByVideo(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to count detections: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2, got %d", count)
		}
	})

	t.Run("UpdateMatchAndReject", func(t *testing.T) {
		dets, _ := repo.PendingByVideo(ctx, 10)

		if err := repo.UpdateMatch(ctx, dets[0].ID, 42, 0.71, database.MatchStatusPending); err != nil {
			t.Fatalf("Failed to update match: %v", err)
		}
		got, _ := repo.Get(ctx, dets[0].ID)
		if got.MatchedCreatorID == nil || *got.MatchedCreatorID != 42 {
			t.Error("Expected matched creator 42")
		}
		if got.MatchConfidence == nil || *got.MatchConfidence != 0.71 {
			t.Error("Expected match confidence 0.71")
		}

		if err := repo.Reject(ctx, dets[0].ID); err != nil {
			t.Fatalf("Failed to reject detection: %v", err)
		}
		got, _ = repo.Get(ctx, dets[0].ID)
		if got.MatchStatus != database.MatchStatusRejected {
			t.Errorf("Expected rejected status, got '%s'", got.MatchStatus)
		}
		if got.MatchedCreatorID != nil {
			t.Error("Expected matched creator cleared after reject")
		}
	})

	t.Run("MarkNoMatch", func(t *testing.T) {
		dets, _ := repo.ByVideo(ctx, 10)
		if err := repo.MarkNoMatch(ctx, dets[1].ID); err != nil {
			t.Fatalf("Failed to mark no_match: %v", err)
		}
		got, _ := repo.Get(ctx, dets[1].ID)
		if got.MatchStatus != database.MatchStatusNoMatch {
			t.Errorf("Expected no_match status, got '%s'", got.MatchStatus)
		}
	})

	t.Run("ResolveCreator", func(t *testing.T) {
		batch := []database.Detection{
			{VideoID: 20, Timestamp: 10, BBox: []float64{0, 0, 1, 1}, DetScore: 0.9, Embedding: testEmbedding(0)},
			{VideoID: 20, Timestamp: 20, BBox: []float64{0, 0, 1, 1}, DetScore: 0.9, Embedding: testEmbedding(1)},
			{VideoID: 20, Timestamp: 30, BBox: []float64{0, 0, 1, 1}, DetScore: 0.9, Embedding: testEmbedding(2)},
		}
		if err := repo.SaveBatch(ctx, batch); err != nil {
			t.Fatalf("Failed to save batch: %v", err)
		}

		dets, _ := repo.ByVideo(ctx, 20)
		// First row matched to the creator, second resolved by ID, third untouched.
		repo.UpdateMatch(ctx, dets[0].ID, 55, 0.8, database.MatchStatusPending)

		if err := repo.ResolveCreator(ctx, 20, 55, []int64{dets[1].ID}); err != nil {
			t.Fatalf("Failed to resolve creator: %v", err)
		}

		remaining, _ := repo.ByVideo(ctx, 20)
		if len(remaining) != 1 {
			t.Fatalf("Expected 1 remaining detection, got %d", len(remaining))
		}
		if remaining[0].ID != dets[2].ID {
			t.Errorf("Expected detection %d to remain, got %d", dets[2].ID, remaining[0].ID)
		}
	})
}

func TestJobRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewJobRepository(pool)

	t.Run("CreateAndActiveUniqueness", func(t *testing.T) {
		job, err := repo.Create(ctx, 100, 30, "/tmp/frames-100")
		if err != nil {
			t.Fatalf("Failed to create job: %v", err)
		}
		if job.Status != database.JobStatusPending {
			t.Errorf("Expected pending status, got '%s'", job.Status)
		}
		if job.TotalFrames != 30 {
			t.Errorf("Expected 30 total frames, got %d", job.TotalFrames)
		}

		if _, err := repo.Create(ctx, 100, 30, "/tmp/frames-100b"); err != database.ErrJobActive {
			t.Errorf("Expected ErrJobActive for second active job, got %v", err)
		}
	})

	t.Run("NextReadyClaimsOldest", func(t *testing.T) {
		job, err := repo.NextReady(ctx)
		if err != nil {
			t.Fatalf("Failed to claim job: %v", err)
		}
		if job.VideoID != 100 {
			t.Errorf("Expected job for video 100, got %d", job.VideoID)
		}
		if job.Status != database.JobStatusProcessing {
			t.Errorf("Expected processing status, got '%s'", job.Status)
		}
		if job.StartedAt == nil {
			t.Error("Expected started_at to be set")
		}

		if _, err := repo.NextReady(ctx); err != database.ErrNotFound {
			t.Errorf("Expected ErrNotFound with empty queue, got %v", err)
		}
	})

	t.Run("RequeueDelaysNextAttempt", func(t *testing.T) {
		job, _ := repo.GetByVideo(ctx, 100)

		nextAttempt := time.Now().Add(time.Hour)
		if err := repo.Requeue(ctx, job.ID, "detection timed out", nextAttempt); err != nil {
			t.Fatalf("Failed to requeue job: %v", err)
		}

		got, _ := repo.Get(ctx, job.ID)
		if got.Status != database.JobStatusPending {
			t.Errorf("Expected pending status, got '%s'", got.Status)
		}
		if got.RetryCount != 1 {
			t.Errorf("Expected retry count 1, got %d", got.RetryCount)
		}
		if got.LastError != "detection timed out" {
			t.Errorf("Expected last error preserved, got '%s'", got.LastError)
		}

		// Not ready until next_attempt_at passes.
		if _, err := repo.NextReady(ctx); err != database.ErrNotFound {
			t.Errorf("Expected ErrNotFound before retry interval, got %v", err)
		}
	})

	t.Run("CompleteLifecycle", func(t *testing.T) {
		job, err := repo.Create(ctx, 200, 10, "/tmp/frames-200")
		if err != nil {
			t.Fatalf("Failed to create job: %v", err)
		}

		// MarkCompleted only applies to processing jobs.
		if err := repo.MarkCompleted(ctx, job.ID); err != nil {
			t.Fatalf("MarkCompleted returned error: %v", err)
		}
		got, _ := repo.Get(ctx, job.ID)
		if got.Status != database.JobStatusPending {
			t.Errorf("Expected pending job untouched, got '%s'", got.Status)
		}

		claimed, err := repo.NextReady(ctx)
		if err != nil {
			t.Fatalf("Failed to claim job: %v", err)
		}
		if err := repo.IncrementProcessed(ctx, claimed.ID, 10); err != nil {
			t.Fatalf("Failed to increment processed: %v", err)
		}
		if err := repo.MarkCompleted(ctx, claimed.ID); err != nil {
			t.Fatalf("Failed to mark completed: %v", err)
		}

		got, _ = repo.Get(ctx, claimed.ID)
		if got.Status != database.JobStatusCompleted {
			t.Errorf("Expected completed status, got '%s'", got.Status)
		}
		if got.ProcessedFrames != 10 {
			t.Errorf("Expected 10 processed frames, got %d", got.ProcessedFrames)
		}
		if got.CompletedAt == nil {
			t.Error("Expected completed_at to be set")
		}

		// Terminal job frees the active slot for the video.
		if _, err := repo.Create(ctx, 200, 5, "/tmp/frames-200b"); err != nil {
			t.Errorf("Expected new job after completion, got %v", err)
		}
	})

	t.Run("ClearActive", func(t *testing.T) {
		if _, err := repo.NextReady(ctx); err != nil {
			t.Fatalf("Failed to claim job: %v", err)
		}

		cleared, err := repo.ClearActive(ctx)
		if err != nil {
			t.Fatalf("Failed to clear queue: %v", err)
		}
		// Requeued video-100 job plus the claimed video-200 job.
		if len(cleared) != 2 {
			t.Errorf("Expected 2 cleared jobs, got %d", len(cleared))
		}

		active, err := repo.Active(ctx)
		if err != nil {
			t.Fatalf("Failed to query active jobs: %v", err)
		}
		if len(active) != 0 {
			t.Errorf("Expected no active jobs after clear, got %d", len(active))
		}
	})
}
