package memory

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"ragqa/internal/domain"
)

type entry struct {
	chunk  domain.Chunk
	vector []float64
	norm   float64
}

// Storage is a flat in-memory index using exhaustive cosine similarity.
// Entries keep their insertion order, which breaks score ties.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []entry
	pos       map[string]int
}

func NewStorage(dimension int) *Storage {
	return &Storage{dimension: dimension, pos: make(map[string]int)}
}

// Dimension returns the vector width accepted by the index.
func (s *Storage) Dimension() int { return s.dimension }

// Upsert adds or replaces entries. Either every entry becomes visible or,
// on error, none does. A replaced entry keeps its original position.
func (s *Storage) Upsert(chunks []domain.Chunk, vectors [][]float64) error {
	fresh, err := s.prepare(chunks, vectors)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range fresh {
		if i, ok := s.pos[e.chunk.ChunkID]; ok {
			s.entries[i] = e
			continue
		}
		s.pos[e.chunk.ChunkID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

// Replace swaps the whole index content in one step.
func (s *Storage) Replace(chunks []domain.Chunk, vectors [][]float64) error {
	fresh, err := s.prepare(chunks, vectors)
	if err != nil {
		return err
	}
	entries := make([]entry, 0, len(fresh))
	pos := make(map[string]int, len(fresh))
	for _, e := range fresh {
		if i, ok := pos[e.chunk.ChunkID]; ok {
			entries[i] = e
			continue
		}
		pos[e.chunk.ChunkID] = len(entries)
		entries = append(entries, e)
	}
	s.mu.Lock()
	s.entries, s.pos = entries, pos
	s.mu.Unlock()
	return nil
}

// Remove deletes the given chunks and returns how many were present.
func (s *Storage) Remove(chunkIDs ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[int]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		if i, ok := s.pos[id]; ok {
			drop[i] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := make([]entry, 0, len(s.entries)-len(drop))
	for i, e := range s.entries {
		if _, ok := drop[i]; !ok {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.pos = make(map[string]int, len(kept))
	for i, e := range kept {
		s.pos[e.chunk.ChunkID] = i
	}
	return len(drop)
}

// Search returns up to topK entries with cosine similarity >= floor, best
// first. Equal scores keep insertion order.
func (s *Storage) Search(vector []float64, topK int, floor float64) ([]domain.SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension %d, index dimension %d", len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = 5
	}
	qnorm := norm(vector)

	s.mu.RLock()
	defer s.mu.RUnlock()
	type hit struct {
		idx   int
		score float64
	}
	hits := make([]hit, 0, len(s.entries))
	for i := range s.entries {
		score := cosine(vector, qnorm, s.entries[i].vector, s.entries[i].norm)
		if score >= floor {
			hits = append(hits, hit{i, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if topK > len(hits) {
		topK = len(hits)
	}
	results := make([]domain.SearchResult, 0, topK)
	for _, h := range hits[:topK] {
		results = append(results, domain.SearchResult{Chunk: s.entries[h.idx].chunk, Score: h.score})
	}
	return results, nil
}

// Size returns the number of indexed chunks.
func (s *Storage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Storage) prepare(chunks []domain.Chunk, vectors [][]float64) ([]entry, error) {
	if len(chunks) != len(vectors) {
		return nil, errors.New("chunks and vectors length mismatch")
	}
	out := make([]entry, len(chunks))
	for i := range chunks {
		if chunks[i].ChunkID == "" {
			return nil, errors.New("chunk id is required")
		}
		if len(vectors[i]) != s.dimension {
			return nil, errors.New("vector dimension mismatch")
		}
		v := slices.Clone(vectors[i])
		out[i] = entry{chunk: chunks[i], vector: v, norm: norm(v)}
	}
	return out, nil
}

func norm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// cosine returns 0 when either vector is all zeros.
func cosine(a []float64, na float64, b []float64, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	c := sum / (na * nb)
	return math.Max(-1, math.Min(1, c))
}
