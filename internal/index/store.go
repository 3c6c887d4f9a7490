// Package index implements the in-memory vector index: exact top-k inner
// product search over unit-length vectors with a parallel metadata sequence,
// plus its on-disk persistence format.
package index

import (
	"container/heap"
	"fmt"
	"slices"
	"sync"

	"github.com/54b3r/healthrag/internal/rag"
)

// Provenance records how an index was built. It is written to the manifest
// so a loader can tell whether the persisted index still matches the running
// configuration.
type Provenance struct {
	// ModelID identifies the embedding model that produced the vectors.
	ModelID string `json:"model_id"`
	// ChunkSize is the chunker's target size in runes.
	ChunkSize int `json:"chunk_size"`
	// ChunkOverlap is the chunker's overlap in runes.
	ChunkOverlap int `json:"chunk_overlap"`
	// DatasetPath is the dataset file the index was built from.
	DatasetPath string `json:"dataset_path"`
}

// Store holds vectors and their metadata records. Position i of the vector
// collection and position i of the metadata sequence describe the same chunk.
// Search is safe for concurrent use; Populate takes an exclusive lock.
type Store struct {
	mu sync.RWMutex
	// dim is the vector dimension, 0 while empty.
	dim int
	// vectors holds count*dim floats, row-major.
	vectors []float32
	// records is the metadata sequence.
	records []rag.Metadata
	// manifest describes the persisted form; Dim and Count track the contents.
	manifest Manifest
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Populate replaces the store's contents from two equal-length sequences.
// Every vector is normalized to unit length on the way in; a zero vector is
// rejected with rag.ErrZeroVector. On error the previous contents are left
// untouched.
func (s *Store) Populate(vectors [][]float32, records []rag.Metadata) error {
	if len(vectors) != len(records) {
		return fmt.Errorf("index: %d vectors but %d metadata records: %w", len(vectors), len(records), rag.ErrLengthMismatch)
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return fmt.Errorf("index: vector 0 is empty: %w", rag.ErrDimensionMismatch)
		}
	}
	flat := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("index: vector %d has dimension %d, want %d: %w", i, len(v), dim, rag.ErrDimensionMismatch)
		}
		unit, norm := rag.NormalizeL2(v)
		if norm == 0 {
			return fmt.Errorf("index: vector %d: %w", i, rag.ErrZeroVector)
		}
		flat = append(flat, unit...)
	}
	recs := slices.Clone(records)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = dim
	s.vectors = flat
	s.records = recs
	s.manifest.Dim = dim
	s.manifest.Count = len(recs)
	return nil
}

// SetProvenance records build parameters to be written with the next Persist.
func (s *Store) SetProvenance(p Provenance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest.Provenance = p
}

// Manifest returns a copy of the store's manifest.
func (s *Store) Manifest() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// Len returns the number of stored vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Dim returns the vector dimension, 0 for an empty store.
func (s *Store) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Records returns a copy of the metadata sequence.
func (s *Store) Records() []rag.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Search returns up to k hits with the highest inner product against query,
// ordered by descending score with ties broken by ascending position. k is
// clamped to the stored count; k <= 0 yields no hits.
func (s *Store) Search(query []float32, k int) ([]rag.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if k <= 0 || n == 0 {
		return []rag.Hit{}, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("index: query has dimension %d, index has %d: %w", len(query), s.dim, rag.ErrDimensionMismatch)
	}
	k = min(k, n)

	h := make(topK, 0, k)
	for pos := range n {
		c := candidate{pos: pos, score: dot(query, s.vectors[pos*s.dim:(pos+1)*s.dim])}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if c.better(h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	slices.SortFunc(h, func(a, b candidate) int {
		switch {
		case a.better(b):
			return -1
		case b.better(a):
			return 1
		}
		return 0
	})

	hits := make([]rag.Hit, len(h))
	for i, c := range h {
		hits[i] = rag.Hit{Position: c.pos, Score: c.score, Record: s.records[c.pos]}
	}
	return hits, nil
}

// dot accumulates in float64 so scores do not depend on summation drift.
func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

type candidate struct {
	pos   int
	score float32
}

// better orders by score, then by earlier insertion.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.pos < o.pos
}

// topK is a min-heap whose root is the worst retained candidate.
type topK []candidate

func (h topK) Len() int           { return len(h) }
func (h topK) Less(i, j int) bool { return h[j].better(h[i]) }
func (h topK) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *topK) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *topK) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}
