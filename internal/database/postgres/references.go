package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/pgvector/pgvector-go"
)

// ReferenceRepository provides PostgreSQL-backed reference gallery storage
// with an optional in-memory HNSW index.
type ReferenceRepository struct {
	pool        *Pool
	hnswIndex   *database.GalleryIndex
	hnswEnabled bool
	hnswMu      sync.RWMutex
}

// NewReferenceRepository creates a new PostgreSQL reference repository.
func NewReferenceRepository(pool *Pool) *ReferenceRepository {
	return &ReferenceRepository{pool: pool}
}

const referenceColumns = `id, creator_id, embedding, source, source_video_id, source_timestamp,
	det_score, is_primary, age, gender, created_at`

func scanReference(row interface{ Scan(...any) error }) (*database.ReferenceEmbedding, error) {
	var ref database.ReferenceEmbedding
	var vec pgvector.Vector
	var gender sql.NullString

	err := row.Scan(
		&ref.ID,
		&ref.CreatorID,
		&vec,
		&ref.Source,
		&ref.SourceVideoID,
		&ref.SourceTimestamp,
		&ref.DetScore,
		&ref.IsPrimary,
		&ref.Age,
		&gender,
		&ref.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ref.Embedding = vec.Slice()
	ref.Gender = gender.String
	return &ref, nil
}

func scanReferences(rows *sql.Rows) ([]database.ReferenceEmbedding, error) {
	var refs []database.ReferenceEmbedding
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs = append(refs, *ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return refs, nil
}

// Get retrieves a reference embedding by ID.
func (r *ReferenceRepository) Get(ctx context.Context, id int64) (*database.ReferenceEmbedding, error) {
	query := fmt.Sprintf("SELECT %s FROM reference_embeddings WHERE id = $1", referenceColumns)

	ref, err := scanReference(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reference: %w", err)
	}
	return ref, nil
}

// GetByCreator retrieves all reference embeddings for a creator, primary first.
func (r *ReferenceRepository) GetByCreator(ctx context.Context, creatorID int64) ([]database.ReferenceEmbedding, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM reference_embeddings WHERE creator_id = $1 ORDER BY is_primary DESC, id",
		referenceColumns,
	)

	rows, err := r.pool.Query(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("query references by creator: %w", err)
	}
	defer rows.Close()

	return scanReferences(rows)
}

// All retrieves every reference embedding, used to build the HNSW index.
func (r *ReferenceRepository) All(ctx context.Context) ([]database.ReferenceEmbedding, error) {
	query := fmt.Sprintf("SELECT %s FROM reference_embeddings ORDER BY id", referenceColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all references: %w", err)
	}
	defer rows.Close()

	return scanReferences(rows)
}

// Count returns the total number of reference embeddings.
func (r *ReferenceRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM reference_embeddings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count references: %w", err)
	}
	return count, nil
}

// CountByCreator returns the number of reference embeddings for a creator.
func (r *ReferenceRepository) CountByCreator(ctx context.Context, creatorID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(
		ctx, "SELECT COUNT(*) FROM reference_embeddings WHERE creator_id = $1", creatorID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count references by creator: %w", err)
	}
	return count, nil
}

// FindSimilar finds the nearest reference embeddings by cosine distance.
// Uses the in-memory HNSW index if enabled, otherwise falls back to pgvector.
func (r *ReferenceRepository) FindSimilar(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.ReferenceEmbedding, []float64, error) {
	r.hnswMu.RLock()
	hnswEnabled := r.hnswEnabled && r.hnswIndex != nil
	r.hnswMu.RUnlock()

	if hnswEnabled {
		return r.findSimilarHNSW(embedding, limit, maxDistance)
	}

	return r.findSimilarPostgres(ctx, embedding, limit, maxDistance)
}

// findSimilarHNSW uses the in-memory HNSW index for similarity search.
func (r *ReferenceRepository) findSimilarHNSW(
	embedding []float32, limit int, maxDistance float64,
) ([]database.ReferenceEmbedding, []float64, error) {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndex == nil {
		return nil, nil, errors.New("HNSW index not initialized")
	}

	// Over-fetch so distance filtering still yields enough results.
	ids, distances, err := r.hnswIndex.Search(embedding, limit*database.HNSWSearchMultiplier)
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}

	refs := make([]database.ReferenceEmbedding, 0, limit)
	dists := make([]float64, 0, limit)
	for i, id := range ids {
		if distances[i] > maxDistance {
			continue
		}
		ref := r.hnswIndex.GetReference(id)
		if ref == nil {
			continue
		}
		refs = append(refs, *ref)
		dists = append(dists, distances[i])
		if len(refs) >= limit {
			break
		}
	}

	return refs, dists, nil
}

// findSimilarPostgres uses pgvector for similarity search with ef_search tuning.
func (r *ReferenceRepository) findSimilarPostgres(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.ReferenceEmbedding, []float64, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s, embedding <=> $1::vector AS distance
		FROM reference_embeddings
		WHERE embedding <=> $1::vector <= $2
		ORDER BY distance
		LIMIT $3
	`, referenceColumns)

	vec := pgvector.NewVector(embedding)
	rows, err := tx.QueryContext(ctx, query, vec, maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar references: %w", err)
	}
	defer rows.Close()

	var refs []database.ReferenceEmbedding
	var dists []float64
	for rows.Next() {
		var ref database.ReferenceEmbedding
		var vecCol pgvector.Vector
		var gender sql.NullString
		var dist float64
		err := rows.Scan(
			&ref.ID, &ref.CreatorID, &vecCol, &ref.Source, &ref.SourceVideoID,
			&ref.SourceTimestamp, &ref.DetScore, &ref.IsPrimary, &ref.Age,
			&gender, &ref.CreatedAt, &dist,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("scan similar reference: %w", err)
		}
		ref.Embedding = vecCol.Slice()
		ref.Gender = gender.String
		refs = append(refs, ref)
		dists = append(dists, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate similar references: %w", err)
	}

	return refs, dists, nil
}

// Save stores a new reference embedding and returns its ID. When the
// reference is flagged primary, the primary flag is cleared on all sibling
// embeddings of the creator inside the same transaction.
func (r *ReferenceRepository) Save(ctx context.Context, ref *database.ReferenceEmbedding) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if ref.IsPrimary {
		if _, err := tx.ExecContext(
			ctx,
			"UPDATE reference_embeddings SET is_primary = FALSE WHERE creator_id = $1 AND is_primary",
			ref.CreatorID,
		); err != nil {
			return 0, fmt.Errorf("clear sibling primary flags: %w", err)
		}
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reference_embeddings
			(creator_id, embedding, source, source_video_id, source_timestamp,
			 det_score, is_primary, age, gender)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		ref.CreatorID,
		pgvector.NewVector(ref.Embedding),
		ref.Source,
		ref.SourceVideoID,
		ref.SourceTimestamp,
		ref.DetScore,
		ref.IsPrimary,
		ref.Age,
		ref.Gender,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reference: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reference: %w", err)
	}

	ref.ID = id
	r.addToHNSW(ref)
	return id, nil
}

// SetPrimary marks the given embedding primary and clears its siblings
// as one logical operation.
func (r *ReferenceRepository) SetPrimary(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var creatorID int64
	err = tx.QueryRowContext(
		ctx, "SELECT creator_id FROM reference_embeddings WHERE id = $1", id,
	).Scan(&creatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query reference creator: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE reference_embeddings SET is_primary = FALSE WHERE creator_id = $1 AND is_primary",
		creatorID,
	); err != nil {
		return fmt.Errorf("clear sibling primary flags: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx, "UPDATE reference_embeddings SET is_primary = TRUE WHERE id = $1", id,
	); err != nil {
		return fmt.Errorf("set primary flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit primary change: %w", err)
	}
	return nil
}

// Delete removes a reference embedding.
func (r *ReferenceRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM reference_embeddings WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete reference: %w", err)
	}

	r.hnswMu.RLock()
	idx := r.hnswIndex
	r.hnswMu.RUnlock()
	if idx != nil {
		idx.Delete(id)
	}
	return nil
}

// EnableHNSW builds (or loads from indexPath) the in-memory HNSW index over
// the reference gallery.
func (r *ReferenceRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	refs, err := r.All(ctx)
	if err != nil {
		return fmt.Errorf("load references for HNSW: %w", err)
	}

	idx := database.NewGalleryIndex()

	if indexPath != "" {
		if err := idx.Load(indexPath); err != nil {
			log.Printf("Failed to load HNSW index from %s, rebuilding: %v", indexPath, err)
		}
	}

	if idx.IsEmpty() {
		if err := idx.BuildFromReferences(refs); err != nil {
			return fmt.Errorf("build HNSW index: %w", err)
		}
		idx.SetPath(indexPath)
	} else {
		idx.RebuildLookup(refs)
	}

	r.hnswMu.Lock()
	r.hnswIndex = idx
	r.hnswEnabled = true
	r.hnswMu.Unlock()
	return nil
}

// RebuildHNSW rebuilds the in-memory HNSW index from the database.
func (r *ReferenceRepository) RebuildHNSW(ctx context.Context) error {
	refs, err := r.All(ctx)
	if err != nil {
		return fmt.Errorf("load references for HNSW: %w", err)
	}

	idx := database.NewGalleryIndex()
	if err := idx.BuildFromReferences(refs); err != nil {
		return fmt.Errorf("build HNSW index: %w", err)
	}

	r.hnswMu.Lock()
	r.hnswIndex = idx
	r.hnswEnabled = true
	r.hnswMu.Unlock()
	return nil
}

// HNSWCount returns the number of items in the HNSW index.
func (r *ReferenceRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// SaveHNSWIndex saves the current index to disk (if a path was configured).
func (r *ReferenceRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return nil
	}
	return r.hnswIndex.Save()
}

// addToHNSW inserts a freshly saved reference into the live index.
func (r *ReferenceRepository) addToHNSW(ref *database.ReferenceEmbedding) {
	r.hnswMu.RLock()
	idx := r.hnswIndex
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()

	if !enabled || idx == nil {
		return
	}
	if err := idx.Add(ref); err != nil {
		log.Printf("Failed to add reference %d to HNSW index: %v", ref.ID, err)
	}
}
