// Package matching decides which creator a detected face belongs to and
// resolves matches into video-creator tags.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/video-tagger/internal/database"
	"github.com/kozaktomas/video-tagger/internal/faceapi"
	"github.com/kozaktomas/video-tagger/internal/library"
)

// ErrNoFace is returned when a reference image contains no detectable face.
var ErrNoFace = errors.New("no face found in reference image")

// Detector is the subset of the face service client the engine needs.
type Detector interface {
	Detect(ctx context.Context, imageData []byte) (*faceapi.DetectResult, error)
}

// Library is the subset of the video-library store the engine needs.
type Library interface {
	GetCreator(ctx context.Context, id int64) (*library.Creator, error)
	InsertAssociation(ctx context.Context, videoID, creatorID int64) error
	HasAssociation(ctx context.Context, videoID, creatorID int64) (bool, error)
}

// Match is one gallery hit for a probe embedding.
type Match struct {
	CreatorID   int64   `json:"creator_id"`
	CreatorName string  `json:"creator_name"`
	Similarity  float64 `json:"similarity"`
	ReferenceID int64   `json:"reference_embedding_id"`
}

// AutoMatchResult summarizes one auto_match pass over a video.
type AutoMatchResult struct {
	Detections    int     `json:"detections"`
	NoMatch       int     `json:"no_match"`
	PendingReview int     `json:"pending_review"`
	AutoTagged    []int64 `json:"auto_tagged_creator_ids"`
}

// Options are the engine thresholds.
type Options struct {
	// SimilarityThreshold is the minimum similarity for any match at all.
	SimilarityThreshold float64
	// AutoTagThreshold is the minimum similarity for tagging without review.
	AutoTagThreshold float64
	// EmbeddingDim is the expected embedding dimensionality.
	EmbeddingDim int
}

// Engine matches detections against the reference gallery.
type Engine struct {
	refs     database.ReferenceWriter
	dets     database.DetectionWriter
	library  Library
	detector Detector
	opts     Options
}

// NewEngine creates a matching engine.
func NewEngine(
	refs database.ReferenceWriter,
	dets database.DetectionWriter,
	lib Library,
	detector Detector,
	opts Options,
) *Engine {
	return &Engine{
		refs:     refs,
		dets:     dets,
		library:  lib,
		detector: detector,
		opts:     opts,
	}
}

// FindSimilar returns gallery matches for the embedding with similarity at
// least threshold, in descending similarity order, at most limit results.
// Similarity is 1 minus cosine distance.
func (e *Engine) FindSimilar(
	ctx context.Context, embedding []float32, limit int, threshold float64,
) ([]Match, error) {
	refs, distances, err := e.refs.FindSimilar(ctx, embedding, limit, 1-threshold)
	if err != nil {
		return nil, fmt.Errorf("gallery search: %w", err)
	}

	names := make(map[int64]string)
	matches := make([]Match, 0, len(refs))
	for i := range refs {
		similarity := 1 - distances[i]
		if similarity < threshold {
			continue
		}

		name, ok := names[refs[i].CreatorID]
		if !ok {
			creator, err := e.library.GetCreator(ctx, refs[i].CreatorID)
			if err != nil && !errors.Is(err, library.ErrNotFound) {
				return nil, fmt.Errorf("resolve creator %d: %w", refs[i].CreatorID, err)
			}
			if creator != nil {
				name = creator.Name
			}
			names[refs[i].CreatorID] = name
		}

		matches = append(matches, Match{
			CreatorID:   refs[i].CreatorID,
			CreatorName: name,
			Similarity:  similarity,
			ReferenceID: refs[i].ID,
		})
	}
	return matches, nil
}

// creatorCandidate is a pending detection with its best gallery match.
type creatorCandidate struct {
	detectionID int64
	creatorID   int64
	similarity  float64
	referenceID int64
}

// AutoMatchVideo matches all pending detections of a video against the
// gallery. Detections below the similarity threshold become no_match.
// The remainder are grouped by best-matched creator: a group whose best
// similarity reaches the auto-tag threshold tags the video and removes the
// group's detections in one step; a group below it is left pending with its
// match fields persisted for manual review.
func (e *Engine) AutoMatchVideo(ctx context.Context, videoID int64) (*AutoMatchResult, error) {
	pending, err := e.dets.PendingByVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load pending detections: %w", err)
	}

	result := &AutoMatchResult{Detections: len(pending)}
	groups := make(map[int64][]creatorCandidate)

	for i := range pending {
		det := &pending[i]
		matches, err := e.FindSimilar(ctx, det.Embedding, 1, e.opts.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			if err := e.dets.MarkNoMatch(ctx, det.ID); err != nil {
				return nil, fmt.Errorf("mark detection %d no_match: %w", det.ID, err)
			}
			result.NoMatch++
			continue
		}

		best := matches[0]
		groups[best.CreatorID] = append(groups[best.CreatorID], creatorCandidate{
			detectionID: det.ID,
			creatorID:   best.CreatorID,
			similarity:  best.Similarity,
			referenceID: best.ReferenceID,
		})
	}

	for creatorID, members := range groups {
		maxConfidence := 0.0
		for _, m := range members {
			if m.similarity > maxConfidence {
				maxConfidence = m.similarity
			}
		}

		if maxConfidence >= e.opts.AutoTagThreshold {
			if err := e.resolve(ctx, videoID, creatorID, memberIDs(members)); err != nil {
				return nil, err
			}
			result.AutoTagged = append(result.AutoTagged, creatorID)
			continue
		}

		// Below the auto-tag threshold the whole group stays pending for
		// manual review, with each member's own match fields persisted.
		for _, m := range members {
			err := e.dets.UpdateMatch(ctx, m.detectionID, creatorID, m.similarity, database.MatchStatusPending)
			if err != nil {
				return nil, fmt.Errorf("persist match for detection %d: %w", m.detectionID, err)
			}
			result.PendingReview++
		}
	}

	return result, nil
}

// ConfirmMatch tags the detection's video with the creator and removes every
// detection for that creator on the video, like the auto-tag path. Usable on
// detections the engine left pending. Idempotent.
func (e *Engine) ConfirmMatch(ctx context.Context, detectionID, creatorID int64) error {
	det, err := e.dets.Get(ctx, detectionID)
	if errors.Is(err, database.ErrNotFound) {
		// Already removed by an earlier confirmation or auto-tag.
		log.Printf("detection %d already resolved, nothing to confirm", detectionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load detection: %w", err)
	}
	return e.resolve(ctx, det.VideoID, creatorID, []int64{detectionID})
}

// RejectMatch clears the detection's match fields and marks it rejected.
// The row stays for audit.
func (e *Engine) RejectMatch(ctx context.Context, detectionID int64) error {
	if err := e.dets.Reject(ctx, detectionID); err != nil {
		return fmt.Errorf("reject detection: %w", err)
	}
	return nil
}

// resolve writes the video-creator association unless it already exists,
// then deletes the creator's detections on the video in one transaction.
// Both halves are idempotent, so losing a race with a concurrent resolution
// is harmless.
func (e *Engine) resolve(ctx context.Context, videoID, creatorID int64, detectionIDs []int64) error {
	tagged, err := e.library.HasAssociation(ctx, videoID, creatorID)
	if err != nil {
		return fmt.Errorf("check video %d tags: %w", videoID, err)
	}
	if !tagged {
		if err := e.library.InsertAssociation(ctx, videoID, creatorID); err != nil {
			return fmt.Errorf("tag video %d with creator %d: %w", videoID, creatorID, err)
		}
	}
	if err := e.dets.ResolveCreator(ctx, videoID, creatorID, detectionIDs); err != nil {
		return fmt.Errorf("resolve detections for creator %d: %w", creatorID, err)
	}
	return nil
}

// AddReference registers a reference image for a creator. The image must
// contain exactly one face; more than one logs a warning and uses the
// highest-scoring face.
func (e *Engine) AddReference(
	ctx context.Context, creatorID int64, imageData []byte, source database.ReferenceSource, primary bool,
) (*database.ReferenceEmbedding, error) {
	if _, err := e.library.GetCreator(ctx, creatorID); err != nil {
		return nil, fmt.Errorf("creator %d: %w", creatorID, err)
	}

	detected, err := e.detector.Detect(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("detect reference face: %w", err)
	}
	if len(detected.Faces) == 0 {
		return nil, ErrNoFace
	}
	if len(detected.Faces) > 1 {
		log.Printf("reference image for creator %d has %d faces, using the highest-scoring one",
			creatorID, len(detected.Faces))
	}

	face := detected.Faces[0]
	for _, f := range detected.Faces[1:] {
		if f.DetScore > face.DetScore {
			face = f
		}
	}
	if len(face.Embedding) != e.opts.EmbeddingDim {
		return nil, fmt.Errorf("%w: got %d, expected %d",
			database.ErrDimensionMismatch, len(face.Embedding), e.opts.EmbeddingDim)
	}

	ref := &database.ReferenceEmbedding{
		CreatorID: creatorID,
		Embedding: face.Embedding,
		Source:    source,
		DetScore:  face.DetScore,
		IsPrimary: primary,
		Age:       face.Age,
		Gender:    face.Gender,
	}
	if _, err := e.refs.Save(ctx, ref); err != nil {
		return nil, fmt.Errorf("save reference: %w", err)
	}
	return ref, nil
}

// PromoteDetection turns a video-frame detection into a reference embedding
// for the creator, keeping the source video and timestamp for provenance.
func (e *Engine) PromoteDetection(ctx context.Context, detectionID, creatorID int64) (*database.ReferenceEmbedding, error) {
	det, err := e.dets.Get(ctx, detectionID)
	if err != nil {
		return nil, fmt.Errorf("load detection: %w", err)
	}
	if _, err := e.library.GetCreator(ctx, creatorID); err != nil {
		return nil, fmt.Errorf("creator %d: %w", creatorID, err)
	}
	if len(det.Embedding) != e.opts.EmbeddingDim {
		return nil, fmt.Errorf("%w: got %d, expected %d",
			database.ErrDimensionMismatch, len(det.Embedding), e.opts.EmbeddingDim)
	}

	videoID := det.VideoID
	ts := det.Timestamp
	ref := &database.ReferenceEmbedding{
		CreatorID:       creatorID,
		Embedding:       det.Embedding,
		Source:          database.ReferenceSourceVideoFrame,
		SourceVideoID:   &videoID,
		SourceTimestamp: &ts,
		DetScore:        det.DetScore,
		Age:             det.Age,
		Gender:          det.Gender,
	}
	if _, err := e.refs.Save(ctx, ref); err != nil {
		return nil, fmt.Errorf("save reference: %w", err)
	}
	return ref, nil
}

func memberIDs(members []creatorCandidate) []int64 {
	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = m.detectionID
	}
	return ids
}
