// Package library provides direct access to the video manager's own
// MariaDB database: creators, videos and their associations.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("library: not found")

// Creator is a row of the manager's creators table.
type Creator struct {
	ID   int64
	Name string
}

// Video is a row of the manager's videos table.
type Video struct {
	ID       int64
	Path     string
	Duration float64
}

// Store manages a connection pool to the video-library database.
type Store struct {
	db *sql.DB
}

// NewStore creates a new library store for the given DSN.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("library database DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open library database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping library database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing library database: %w", err)
		}
	}
	return nil
}

// GetCreator retrieves a creator by ID.
func (s *Store) GetCreator(ctx context.Context, id int64) (*Creator, error) {
	var c Creator
	err := s.db.QueryRowContext(
		ctx, "SELECT id, name FROM creators WHERE id = ?", id,
	).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query creator: %w", err)
	}
	return &c, nil
}

// FindCreatorByName finds a creator by normalized name comparison.
// Diacritics, case and dashes are ignored on both sides.
func (s *Store) FindCreatorByName(ctx context.Context, name string) (*Creator, error) {
	creators, err := s.ListCreators(ctx)
	if err != nil {
		return nil, err
	}

	want := NormalizeCreatorName(name)
	for i := range creators {
		if NormalizeCreatorName(creators[i].Name) == want {
			return &creators[i], nil
		}
	}
	return nil, ErrNotFound
}

// ListCreators returns all creators ordered by name.
func (s *Store) ListCreators(ctx context.Context) ([]Creator, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM creators ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query creators: %w", err)
	}
	defer rows.Close()

	var creators []Creator
	for rows.Next() {
		var c Creator
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan creator: %w", err)
		}
		creators = append(creators, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate creators: %w", err)
	}
	return creators, nil
}

// GetVideo retrieves a video by ID.
func (s *Store) GetVideo(ctx context.Context, id int64) (*Video, error) {
	var v Video
	var duration sql.NullFloat64
	err := s.db.QueryRowContext(
		ctx, "SELECT id, path, duration FROM videos WHERE id = ?", id,
	).Scan(&v.ID, &v.Path, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query video: %w", err)
	}
	v.Duration = duration.Float64
	return &v, nil
}

// InsertAssociation tags a video with a creator. Inserting an existing
// association is a no-op, which makes re-running a match resolution safe.
func (s *Store) InsertAssociation(ctx context.Context, videoID, creatorID int64) error {
	_, err := s.db.ExecContext(
		ctx,
		"INSERT IGNORE INTO video_creators (video_id, creator_id) VALUES (?, ?)",
		videoID, creatorID,
	)
	if err != nil {
		return fmt.Errorf("insert association: %w", err)
	}
	return nil
}

// HasAssociation reports whether the video is already tagged with the creator.
func (s *Store) HasAssociation(ctx context.Context, videoID, creatorID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(
		ctx,
		"SELECT 1 FROM video_creators WHERE video_id = ? AND creator_id = ?",
		videoID, creatorID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query association: %w", err)
	}
	return true, nil
}
