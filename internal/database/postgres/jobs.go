package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/lib/pq"
)

// JobRepository provides PostgreSQL-backed extraction job storage.
type JobRepository struct {
	pool *Pool
}

// NewJobRepository creates a new PostgreSQL job repository.
func NewJobRepository(pool *Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, video_id, status, total_frames, processed_frames, retry_count,
	last_error, frame_dir, next_attempt_at, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*database.ExtractionJob, error) {
	var job database.ExtractionJob
	err := row.Scan(
		&job.ID,
		&job.VideoID,
		&job.Status,
		&job.TotalFrames,
		&job.ProcessedFrames,
		&job.RetryCount,
		&job.LastError,
		&job.FrameDir,
		&job.NextAttemptAt,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]database.ExtractionJob, error) {
	var jobs []database.ExtractionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Create inserts a pending job for the video. The partial unique index on
// active jobs rejects a second non-terminal job per video.
func (r *JobRepository) Create(
	ctx context.Context, videoID int64, totalFrames int, frameDir string,
) (*database.ExtractionJob, error) {
	query := fmt.Sprintf(`
		INSERT INTO extraction_jobs (video_id, status, total_frames, frame_dir)
		VALUES ($1, $2, $3, $4)
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(r.pool.QueryRow(ctx, query, videoID, database.JobStatusPending, totalFrames, frameDir))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, database.ErrJobActive
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id int64) (*database.ExtractionJob, error) {
	query := fmt.Sprintf("SELECT %s FROM extraction_jobs WHERE id = $1", jobColumns)

	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// GetByVideo retrieves the most recent job for a video.
func (r *JobRepository) GetByVideo(ctx context.Context, videoID int64) (*database.ExtractionJob, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM extraction_jobs WHERE video_id = $1 ORDER BY created_at DESC LIMIT 1",
		jobColumns,
	)

	job, err := scanJob(r.pool.QueryRow(ctx, query, videoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job by video: %w", err)
	}
	return job, nil
}

// NextReady claims the oldest ready pending job and moves it to processing.
// SKIP LOCKED keeps concurrent workers from claiming the same job.
func (r *JobRepository) NextReady(ctx context.Context) (*database.ExtractionJob, error) {
	query := fmt.Sprintf(`
		UPDATE extraction_jobs
		SET status = $1, started_at = COALESCE(started_at, NOW())
		WHERE id = (
			SELECT id FROM extraction_jobs
			WHERE status = $2 AND next_attempt_at <= NOW()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(r.pool.QueryRow(ctx, query, database.JobStatusProcessing, database.JobStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// IncrementProcessed adds n to the job's processed frame counter.
func (r *JobRepository) IncrementProcessed(ctx context.Context, id int64, n int) error {
	_, err := r.pool.Exec(
		ctx, "UPDATE extraction_jobs SET processed_frames = processed_frames + $2 WHERE id = $1", id, n,
	)
	if err != nil {
		return fmt.Errorf("increment processed frames: %w", err)
	}
	return nil
}

// Requeue moves a processing job back to pending for a later retry.
func (r *JobRepository) Requeue(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = $2, retry_count = retry_count + 1, last_error = $3, next_attempt_at = $4
		WHERE id = $1 AND status = $5
	`, id, database.JobStatusPending, lastError, nextAttempt, database.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// MarkCompleted moves a job to the terminal completed status.
func (r *JobRepository) MarkCompleted(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = $2, completed_at = NOW(), last_error = ''
		WHERE id = $1 AND status = $3
	`, id, database.JobStatusCompleted, database.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// MarkFailed moves a job to the terminal failed status, keeping the last
// error for operator inspection.
func (r *JobRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = $2, completed_at = NOW(), last_error = $3
		WHERE id = $1 AND status = $4
	`, id, database.JobStatusFailed, lastError, database.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// MarkSkipped moves a job to the terminal skipped status.
func (r *JobRepository) MarkSkipped(ctx context.Context, id int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = $2, completed_at = NOW(), last_error = $3
		WHERE id = $1 AND status NOT IN ($4, $5)
	`, id, database.JobStatusSkipped, reason, database.JobStatusCompleted, database.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("mark job skipped: %w", err)
	}
	return nil
}

// Active returns all non-terminal jobs.
func (r *JobRepository) Active(ctx context.Context) ([]database.ExtractionJob, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM extraction_jobs WHERE status IN ($1, $2) ORDER BY created_at",
		jobColumns,
	)

	rows, err := r.pool.Query(ctx, query, database.JobStatusPending, database.JobStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("query active jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Recent returns the newest jobs up to limit.
func (r *JobRepository) Recent(ctx context.Context, limit int) ([]database.ExtractionJob, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM extraction_jobs ORDER BY created_at DESC LIMIT $1", jobColumns,
	)

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ClearActive removes all pending jobs and marks processing jobs skipped.
// Returns the cleared jobs so callers can release their frame directories.
func (r *JobRepository) ClearActive(ctx context.Context) ([]database.ExtractionJob, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	deleteQuery := fmt.Sprintf(
		"DELETE FROM extraction_jobs WHERE status = $1 RETURNING %s", jobColumns,
	)
	rows, err := tx.QueryContext(ctx, deleteQuery, database.JobStatusPending)
	if err != nil {
		return nil, fmt.Errorf("delete pending jobs: %w", err)
	}
	cleared, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	skipQuery := fmt.Sprintf(`
		UPDATE extraction_jobs
		SET status = $1, completed_at = NOW(), last_error = 'queue cleared'
		WHERE status = $2
		RETURNING %s
	`, jobColumns)
	rows, err = tx.QueryContext(ctx, skipQuery, database.JobStatusSkipped, database.JobStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("skip processing jobs: %w", err)
	}
	skipped, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit queue clear: %w", err)
	}

	return append(cleared, skipped...), nil
}
