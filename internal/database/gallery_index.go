package database

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// GalleryIndex wraps an HNSW graph over the reference gallery for fast
// similarity search. The Postgres repository falls back to pgvector queries
// when the index is not enabled.
type GalleryIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64]       // For persistence
	idToRef    map[int64]*ReferenceEmbedding // Maps HNSW node ID to reference
	mu         sync.RWMutex
	path       string // Path to save/load index
}

// NewGalleryIndex creates a new empty gallery index.
func NewGalleryIndex() *GalleryIndex {
	return &GalleryIndex{
		idToRef: make(map[int64]*ReferenceEmbedding),
	}
}

// BuildFromReferences builds the index from a slice of reference embeddings.
func (g *GalleryIndex) BuildFromReferences(refs []ReferenceEmbedding) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(refs) == 0 {
		g.graph = nil
		g.savedGraph = nil
		g.idToRef = make(map[int64]*ReferenceEmbedding)
		return nil
	}

	// Create new graph with cosine distance.
	graph := hnsw.NewGraph[int64]()
	graph.M = HNSWMaxNeighbors
	graph.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	graph.Distance = hnsw.CosineDistance

	g.idToRef = make(map[int64]*ReferenceEmbedding, len(refs))

	for i := range refs {
		ref := &refs[i]
		if len(ref.Embedding) == 0 {
			continue
		}

		graph.Add(hnsw.MakeNode(ref.ID, ref.Embedding))
		g.idToRef[ref.ID] = ref
	}

	g.graph = graph
	return nil
}

// Search finds the k nearest reference embeddings to the query.
// Returns reference IDs and their cosine distances.
func (g *GalleryIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.graph == nil && g.savedGraph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	var neighbors []hnsw.Node[int64]
	if g.savedGraph != nil {
		neighbors = g.savedGraph.Search(query, k)
	} else {
		neighbors = g.graph.Search(query, k)
	}

	ids := make([]int64, len(neighbors))
	distances := make([]float64, len(neighbors))

	for i, n := range neighbors {
		ids[i] = n.Key
		// Compute the exact cosine distance from the node's own embedding.
		if len(n.Value) > 0 {
			distances[i] = CosineDistance(query, n.Value)
		}
	}

	return ids, distances, nil
}

// GetReference returns the reference embedding for a given ID.
func (g *GalleryIndex) GetReference(id int64) *ReferenceEmbedding {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.idToRef[id]
}

// Add adds a single reference embedding to the index.
func (g *GalleryIndex) Add(ref *ReferenceEmbedding) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(ref.Embedding) == 0 {
		return nil
	}

	if g.graph == nil {
		g.graph = hnsw.NewGraph[int64]()
		g.graph.M = HNSWMaxNeighbors
		g.graph.Ml = 1.0 / float64(HNSWMaxNeighbors)
		g.graph.Distance = hnsw.CosineDistance
	}

	g.graph.Add(hnsw.MakeNode(ref.ID, ref.Embedding))
	g.idToRef[ref.ID] = ref

	return nil
}

// Delete removes a reference from the index.
// HNSW doesn't support true deletion, but removing the lookup entry
// effectively removes it from search results since results are filtered
// through idToRef.
func (g *GalleryIndex) Delete(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.idToRef, id)
}

// SetPath sets the path for saving/loading the index.
func (g *GalleryIndex) SetPath(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.path = path
}

// Save persists the index to disk.
func (g *GalleryIndex) Save() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.path == "" {
		return nil // No path set
	}

	if g.graph == nil {
		// Remove existing file if index is empty (best-effort cleanup).
		_ = os.Remove(g.path)
		return nil
	}

	f, err := os.Create(g.path)
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := g.graph.Export(f); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	return nil
}

// Load loads the index from disk. Missing files are not an error; the index
// is rebuilt from the reference table instead.
func (g *GalleryIndex) Load(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	g.savedGraph = saved
	return nil
}

// RebuildLookup rebuilds the id lookup map after loading the graph from disk.
func (g *GalleryIndex) RebuildLookup(refs []ReferenceEmbedding) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idToRef = make(map[int64]*ReferenceEmbedding, len(refs))
	for i := range refs {
		g.idToRef[refs[i].ID] = &refs[i]
	}
}

// Count returns the number of indexed references.
func (g *GalleryIndex) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.idToRef)
}

// IsEmpty returns true if the index has no graph data loaded.
func (g *GalleryIndex) IsEmpty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.graph == nil && g.savedGraph == nil
}
