package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// DetectionRepository provides PostgreSQL-backed detection storage.
type DetectionRepository struct {
	pool *Pool
}

// NewDetectionRepository creates a new PostgreSQL detection repository.
func NewDetectionRepository(pool *Pool) *DetectionRepository {
	return &DetectionRepository{pool: pool}
}

const detectionColumns = `id, video_id, ts, bbox, det_score, embedding,
	matched_creator_id, match_confidence, match_status, age, gender, created_at`

func scanDetection(row interface{ Scan(...any) error }) (*database.Detection, error) {
	var det database.Detection
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var gender sql.NullString

	err := row.Scan(
		&det.ID,
		&det.VideoID,
		&det.Timestamp,
		&bbox,
		&det.DetScore,
		&vec,
		&det.MatchedCreatorID,
		&det.MatchConfidence,
		&det.MatchStatus,
		&det.Age,
		&gender,
		&det.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	det.BBox = []float64(bbox)
	det.Embedding = vec.Slice()
	det.Gender = gender.String
	return &det, nil
}

func scanDetections(rows *sql.Rows) ([]database.Detection, error) {
	var dets []database.Detection
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		dets = append(dets, *det)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return dets, nil
}

// Get retrieves a detection by ID.
func (r *DetectionRepository) Get(ctx context.Context, id int64) (*database.Detection, error) {
	query := fmt.Sprintf("SELECT %s FROM detections WHERE id = $1", detectionColumns)

	det, err := scanDetection(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query detection: %w", err)
	}
	return det, nil
}

// PendingByVideo retrieves all pending-match detections for a video,
// ordered by timestamp.
func (r *DetectionRepository) PendingByVideo(ctx context.Context, videoID int64) ([]database.Detection, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM detections WHERE video_id = $1 AND match_status = $2 ORDER BY ts, id",
		detectionColumns,
	)

	rows, err := r.pool.Query(ctx, query, videoID, database.MatchStatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// ByVideo retrieves all detections for a video regardless of match status.
func (r *DetectionRepository) ByVideo(ctx context.Context, videoID int64) ([]database.Detection, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM detections WHERE video_id = $1 ORDER BY ts, id", detectionColumns,
	)

	rows, err := r.pool.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("query detections by video: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// CountByVideo returns the number of detections stored for a video.
func (r *DetectionRepository) CountByVideo(ctx context.Context, videoID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM detections WHERE video_id = $1", videoID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return count, nil
}

// SaveBatch stores detections produced by one detection batch.
func (r *DetectionRepository) SaveBatch(ctx context.Context, detections []database.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections
			(video_id, ts, bbox, det_score, embedding, match_status, age, gender)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for i := range detections {
		det := &detections[i]
		_, err := stmt.ExecContext(
			ctx,
			det.VideoID,
			det.Timestamp,
			pq.Array(det.BBox),
			det.DetScore,
			pgvector.NewVector(det.Embedding),
			database.MatchStatusPending,
			det.Age,
			det.Gender,
		)
		if err != nil {
			return fmt.Errorf("insert detection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit detections: %w", err)
	}
	return nil
}

// UpdateMatch persists a detection's match fields.
func (r *DetectionRepository) UpdateMatch(
	ctx context.Context, id int64, creatorID int64, confidence float64, status database.MatchStatus,
) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE detections
		SET matched_creator_id = $2, match_confidence = $3, match_status = $4
		WHERE id = $1
	`, id, creatorID, confidence, status)
	if err != nil {
		return fmt.Errorf("update detection match: %w", err)
	}
	return nil
}

// MarkNoMatch marks a detection as no_match. The matched creator is cleared
// to satisfy the table constraint: no_match rows never reference a creator.
func (r *DetectionRepository) MarkNoMatch(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE detections
		SET matched_creator_id = NULL, match_confidence = NULL, match_status = $2
		WHERE id = $1
	`, id, database.MatchStatusNoMatch)
	if err != nil {
		return fmt.Errorf("mark detection no_match: %w", err)
	}
	return nil
}

// Reject clears the match fields and sets match_status to rejected.
func (r *DetectionRepository) Reject(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE detections
		SET matched_creator_id = NULL, match_confidence = NULL, match_status = $2
		WHERE id = $1
	`, id, database.MatchStatusRejected)
	if err != nil {
		return fmt.Errorf("reject detection: %w", err)
	}
	return nil
}

// ResolveCreator deletes every detection for the video matched to the
// creator plus the explicitly listed detection IDs, in one transaction.
// Rows already deleted by a concurrent resolution are simply absent.
func (r *DetectionRepository) ResolveCreator(
	ctx context.Context, videoID, creatorID int64, detectionIDs []int64,
) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		"DELETE FROM detections WHERE video_id = $1 AND matched_creator_id = $2",
		videoID, creatorID,
	); err != nil {
		return fmt.Errorf("delete matched detections: %w", err)
	}

	if len(detectionIDs) > 0 {
		if _, err := tx.ExecContext(
			ctx,
			"DELETE FROM detections WHERE video_id = $1 AND id = ANY($2)",
			videoID, pq.Array(detectionIDs),
		); err != nil {
			return fmt.Errorf("delete resolved detections: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit detection resolution: %w", err)
	}
	return nil
}
