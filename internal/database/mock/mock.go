// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/video-tagger/internal/database"
)

// ReferenceStore is an in-memory implementation of database.ReferenceWriter.
type ReferenceStore struct {
	mu     sync.RWMutex
	refs   map[int64]*database.ReferenceEmbedding
	nextID int64

	// Error injection
	GetError         error
	SaveError        error
	FindSimilarError error
}

// NewReferenceStore creates a new in-memory reference store.
func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{refs: make(map[int64]*database.ReferenceEmbedding), nextID: 1}
}

// AddReference seeds the store with a reference and returns its assigned ID.
func (m *ReferenceStore) AddReference(ref database.ReferenceEmbedding) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref.ID == 0 {
		ref.ID = m.nextID
	}
	if ref.ID >= m.nextID {
		m.nextID = ref.ID + 1
	}
	m.refs[ref.ID] = &ref
	return ref.ID
}

// Get retrieves a reference by ID.
func (m *ReferenceStore) Get(ctx context.Context, id int64) (*database.ReferenceEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.refs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *ref
	return &cp, nil
}

// GetByCreator retrieves all references for a creator, primary first.
func (m *ReferenceStore) GetByCreator(ctx context.Context, creatorID int64) ([]database.ReferenceEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []database.ReferenceEmbedding
	for _, ref := range m.refs {
		if ref.CreatorID == creatorID {
			refs = append(refs, *ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].IsPrimary != refs[j].IsPrimary {
			return refs[i].IsPrimary
		}
		return refs[i].ID < refs[j].ID
	})
	return refs, nil
}

// All retrieves every reference.
func (m *ReferenceStore) All(ctx context.Context) ([]database.ReferenceEmbedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make([]database.ReferenceEmbedding, 0, len(m.refs))
	for _, ref := range m.refs {
		refs = append(refs, *ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

// Count returns the total number of references.
func (m *ReferenceStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.refs), nil
}

// CountByCreator returns the number of references for a creator.
func (m *ReferenceStore) CountByCreator(ctx context.Context, creatorID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, ref := range m.refs {
		if ref.CreatorID == creatorID {
			count++
		}
	}
	return count, nil
}

// FindSimilar performs an exact cosine distance scan over the stored references.
func (m *ReferenceStore) FindSimilar(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.ReferenceEmbedding, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		ref  database.ReferenceEmbedding
		dist float64
	}
	var candidates []scored
	for _, ref := range m.refs {
		dist := database.CosineDistance(embedding, ref.Embedding)
		if dist <= maxDistance {
			candidates = append(candidates, scored{*ref, dist})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	refs := make([]database.ReferenceEmbedding, len(candidates))
	dists := make([]float64, len(candidates))
	for i, c := range candidates {
		refs[i] = c.ref
		dists[i] = c.dist
	}
	return refs, dists, nil
}

// Save stores a reference, clearing sibling primary flags when needed.
func (m *ReferenceStore) Save(ctx context.Context, ref *database.ReferenceEmbedding) (int64, error) {
	if m.SaveError != nil {
		return 0, m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref.IsPrimary {
		for _, other := range m.refs {
			if other.CreatorID == ref.CreatorID {
				other.IsPrimary = false
			}
		}
	}

	cp := *ref
	cp.ID = m.nextID
	m.nextID++
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.refs[cp.ID] = &cp
	ref.ID = cp.ID
	return cp.ID, nil
}

// SetPrimary marks a reference primary and clears its siblings.
func (m *ReferenceStore) SetPrimary(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.refs[id]
	if !ok {
		return database.ErrNotFound
	}
	for _, other := range m.refs {
		if other.CreatorID == ref.CreatorID {
			other.IsPrimary = false
		}
	}
	ref.IsPrimary = true
	return nil
}

// Delete removes a reference.
func (m *ReferenceStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, id)
	return nil
}

// DetectionStore is an in-memory implementation of database.DetectionWriter.
type DetectionStore struct {
	mu         sync.RWMutex
	detections map[int64]*database.Detection
	nextID     int64

	// Error injection
	SaveBatchError      error
	UpdateMatchError    error
	ResolveCreatorError error
}

// NewDetectionStore creates a new in-memory detection store.
func NewDetectionStore() *DetectionStore {
	return &DetectionStore{detections: make(map[int64]*database.Detection), nextID: 1}
}

// AddDetection seeds the store with a detection and returns its assigned ID.
func (m *DetectionStore) AddDetection(det database.Detection) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if det.ID == 0 {
		det.ID = m.nextID
	}
	if det.ID >= m.nextID {
		m.nextID = det.ID + 1
	}
	if det.MatchStatus == "" {
		det.MatchStatus = database.MatchStatusPending
	}
	m.detections[det.ID] = &det
	return det.ID
}

// Get retrieves a detection by ID.
func (m *DetectionStore) Get(ctx context.Context, id int64) (*database.Detection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	det, ok := m.detections[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *det
	return &cp, nil
}

// PendingByVideo retrieves pending detections for a video ordered by timestamp.
func (m *DetectionStore) PendingByVideo(ctx context.Context, videoID int64) ([]database.Detection, error) {
	return m.byVideo(videoID, true)
}

// ByVideo retrieves all detections for a video.
func (m *DetectionStore) ByVideo(ctx context.Context, videoID int64) ([]database.Detection, error) {
	return m.byVideo(videoID, false)
}

func (m *DetectionStore) byVideo(videoID int64, pendingOnly bool) ([]database.Detection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dets []database.Detection
	for _, det := range m.detections {
		if det.VideoID != videoID {
			continue
		}
		if pendingOnly && det.MatchStatus != database.MatchStatusPending {
			continue
		}
		dets = append(dets, *det)
	}
	sort.Slice(dets, func(i, j int) bool {
		if dets[i].Timestamp != dets[j].Timestamp {
			return dets[i].Timestamp < dets[j].Timestamp
		}
		return dets[i].ID < dets[j].ID
	})
	return dets, nil
}

// CountByVideo returns the number of detections for a video.
func (m *DetectionStore) CountByVideo(ctx context.Context, videoID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, det := range m.detections {
		if det.VideoID == videoID {
			count++
		}
	}
	return count, nil
}

// SaveBatch stores a batch of detections in pending match status.
func (m *DetectionStore) SaveBatch(ctx context.Context, detections []database.Detection) error {
	if m.SaveBatchError != nil {
		return m.SaveBatchError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range detections {
		det := detections[i]
		det.ID = m.nextID
		m.nextID++
		det.MatchStatus = database.MatchStatusPending
		if det.CreatedAt.IsZero() {
			det.CreatedAt = time.Now()
		}
		m.detections[det.ID] = &det
	}
	return nil
}

// UpdateMatch persists a detection's match fields.
func (m *DetectionStore) UpdateMatch(
	ctx context.Context, id int64, creatorID int64, confidence float64, status database.MatchStatus,
) error {
	if m.UpdateMatchError != nil {
		return m.UpdateMatchError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	det, ok := m.detections[id]
	if !ok {
		return database.ErrNotFound
	}
	det.MatchedCreatorID = &creatorID
	det.MatchConfidence = &confidence
	det.MatchStatus = status
	return nil
}

// MarkNoMatch marks a detection no_match with no matched creator.
func (m *DetectionStore) MarkNoMatch(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	det, ok := m.detections[id]
	if !ok {
		return database.ErrNotFound
	}
	det.MatchedCreatorID = nil
	det.MatchConfidence = nil
	det.MatchStatus = database.MatchStatusNoMatch
	return nil
}

// Reject clears match fields and keeps the row with rejected status.
func (m *DetectionStore) Reject(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	det, ok := m.detections[id]
	if !ok {
		return database.ErrNotFound
	}
	det.MatchedCreatorID = nil
	det.MatchConfidence = nil
	det.MatchStatus = database.MatchStatusRejected
	return nil
}

// ResolveCreator deletes detections matched to the creator plus the listed IDs.
func (m *DetectionStore) ResolveCreator(
	ctx context.Context, videoID, creatorID int64, detectionIDs []int64,
) error {
	if m.ResolveCreatorError != nil {
		return m.ResolveCreatorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, det := range m.detections {
		if det.VideoID != videoID {
			continue
		}
		if det.MatchedCreatorID != nil && *det.MatchedCreatorID == creatorID {
			delete(m.detections, id)
		}
	}
	for _, id := range detectionIDs {
		if det, ok := m.detections[id]; ok && det.VideoID == videoID {
			delete(m.detections, id)
		}
	}
	return nil
}

// JobStore is an in-memory implementation of database.JobStore.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[int64]*database.ExtractionJob
	nextID int64

	// Error injection
	CreateError error
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[int64]*database.ExtractionJob), nextID: 1}
}

// Create inserts a pending job unless the video already has an active one.
func (m *JobStore) Create(
	ctx context.Context, videoID int64, totalFrames int, frameDir string,
) (*database.ExtractionJob, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.VideoID == videoID && !job.Status.IsTerminal() {
			return nil, database.ErrJobActive
		}
	}

	job := &database.ExtractionJob{
		ID:            m.nextID,
		VideoID:       videoID,
		Status:        database.JobStatusPending,
		TotalFrames:   totalFrames,
		FrameDir:      frameDir,
		NextAttemptAt: time.Now(),
		CreatedAt:     time.Now(),
	}
	m.nextID++
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

// Get retrieves a job by ID.
func (m *JobStore) Get(ctx context.Context, id int64) (*database.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// GetByVideo retrieves the most recent job for a video.
func (m *JobStore) GetByVideo(ctx context.Context, videoID int64) (*database.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *database.ExtractionJob
	for _, job := range m.jobs {
		if job.VideoID != videoID {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) || job.ID > latest.ID {
			latest = job
		}
	}
	if latest == nil {
		return nil, database.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// NextReady claims the oldest ready pending job and moves it to processing.
func (m *JobStore) NextReady(ctx context.Context) (*database.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var ready *database.ExtractionJob
	for _, job := range m.jobs {
		if job.Status != database.JobStatusPending || job.NextAttemptAt.After(now) {
			continue
		}
		if ready == nil || job.ID < ready.ID {
			ready = job
		}
	}
	if ready == nil {
		return nil, database.ErrNotFound
	}

	ready.Status = database.JobStatusProcessing
	if ready.StartedAt == nil {
		started := now
		ready.StartedAt = &started
	}
	cp := *ready
	return &cp, nil
}

// IncrementProcessed adds n to a job's processed frame counter.
func (m *JobStore) IncrementProcessed(ctx context.Context, id int64, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return database.ErrNotFound
	}
	job.ProcessedFrames += n
	return nil
}

// Requeue moves a processing job back to pending.
func (m *JobStore) Requeue(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return database.ErrNotFound
	}
	if job.Status != database.JobStatusProcessing {
		return nil
	}
	job.Status = database.JobStatusPending
	job.RetryCount++
	job.LastError = lastError
	job.NextAttemptAt = nextAttempt
	return nil
}

// MarkCompleted moves a processing job to completed.
func (m *JobStore) MarkCompleted(ctx context.Context, id int64) error {
	return m.finish(id, database.JobStatusCompleted, "")
}

// MarkFailed moves a processing job to failed.
func (m *JobStore) MarkFailed(ctx context.Context, id int64, lastError string) error {
	return m.finish(id, database.JobStatusFailed, lastError)
}

// MarkSkipped moves a job to skipped.
func (m *JobStore) MarkSkipped(ctx context.Context, id int64, reason string) error {
	return m.finish(id, database.JobStatusSkipped, reason)
}

func (m *JobStore) finish(id int64, status database.JobStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return database.ErrNotFound
	}
	job.Status = status
	job.LastError = lastError
	completed := time.Now()
	job.CompletedAt = &completed
	return nil
}

// Active returns all non-terminal jobs.
func (m *JobStore) Active(ctx context.Context) ([]database.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []database.ExtractionJob
	for _, job := range m.jobs {
		if !job.Status.IsTerminal() {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// Recent returns the newest jobs up to limit.
func (m *JobStore) Recent(ctx context.Context, limit int) ([]database.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]database.ExtractionJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// ClearActive removes pending jobs and marks processing jobs skipped.
func (m *JobStore) ClearActive(ctx context.Context) ([]database.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared []database.ExtractionJob
	for id, job := range m.jobs {
		switch job.Status {
		case database.JobStatusPending:
			cleared = append(cleared, *job)
			delete(m.jobs, id)
		case database.JobStatusProcessing:
			job.Status = database.JobStatusSkipped
			job.LastError = "queue cleared"
			completed := time.Now()
			job.CompletedAt = &completed
			cleared = append(cleared, *job)
		}
	}
	sort.Slice(cleared, func(i, j int) bool { return cleared[i].ID < cleared[j].ID })
	return cleared, nil
}
