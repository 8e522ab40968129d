package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/internal/vector"
)

// Store is an in-process cosine index for local runs and tests.
type Store struct {
	mu      sync.RWMutex
	dim     int
	order   []string
	records map[string]vector.Record
}

func NewStore() *Store {
	return &Store{records: make(map[string]vector.Record)}
}

func (s *Store) EnsureCollection(_ context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim != 0 && s.dim != dim {
		return fmt.Errorf("collection exists with dimension %d, requested %d", s.dim, dim)
	}
	s.dim = dim
	return nil
}

func (s *Store) Upsert(_ context.Context, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if s.dim != 0 && len(rec.Embedding) != s.dim {
			return fmt.Errorf("embedding for %s has dimension %d, expected %d", rec.Chunk.ID, len(rec.Embedding), s.dim)
		}
		if _, ok := s.records[rec.Chunk.ID]; !ok {
			s.order = append(s.order, rec.Chunk.ID)
		}
		s.records[rec.Chunk.ID] = rec
	}
	return nil
}

func (s *Store) Search(_ context.Context, embedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.ScoredChunk
	for _, id := range s.order {
		rec := s.records[id]
		if !matches(rec.Chunk.Metadata, filter) {
			continue
		}
		results = append(results, models.ScoredChunk{
			Chunk: rec.Chunk,
			Score: cosine(embedding, rec.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error {
	return nil
}

func matches(metadata, filter map[string]string) bool {
	for key, want := range filter {
		if metadata[key] != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
