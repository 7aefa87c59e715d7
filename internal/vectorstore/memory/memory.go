// Package memory is an in-process vector store using brute-force cosine
// similarity.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/vectorstore"
)

type entry struct {
	chunk  models.Chunk
	vector []float32
}

type collection struct {
	dim     int
	entries map[string]entry
}

// Store is a concurrency-safe in-memory vectorstore.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

var _ vectorstore.Store = (*Store)(nil)

func (s *Store) Name() string { return "memory" }

func (s *Store) CreateCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("collection %s has dimension %d, requested %d: %w",
				name, c.dim, dim, vectorstore.ErrDimensionMismatch)
		}
		return nil
	}
	s.collections[name] = &collection{dim: dim, entries: make(map[string]entry)}
	return nil
}

func (s *Store) Upsert(_ context.Context, name string, chunks []models.Chunk, vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	if err := vectorstore.CheckUpsert(chunks, vectors, c.dim); err != nil {
		return err
	}
	for i, ch := range chunks {
		v := make([]float32, len(vectors[i]))
		copy(v, vectors[i])
		c.entries[ch.ID] = entry{chunk: ch, vector: v}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, name string, vector []float32, topK int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("query has %d dimensions, want %d: %w", len(vector), c.dim, vectorstore.ErrDimensionMismatch)
	}

	results := make([]models.SearchResult, 0, len(c.entries))
	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, models.SearchResult{
			Chunk: e.chunk,
			Score: vectorstore.Cosine(vector, e.vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Chunk.Index < results[j].Chunk.Index
		}
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

// Collections returns the number of live collections.
func (s *Store) Collections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections)
}

func (s *Store) Close() error { return nil }
