// Package vectorstore defines the collection-per-document vector store used
// for retrieval, plus helpers shared by its implementations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/askmypdf/backend/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrCollectionNotFound is returned when searching or upserting into a
	// collection that was never created.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrDimensionMismatch is returned when a vector's length differs from the
	// collection's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Store holds one collection of chunk vectors per indexed document.
type Store interface {
	Name() string
	// CreateCollection is a no-op when the collection already exists with
	// the same dimension.
	CreateCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, chunks []models.Chunk, vectors [][]float32) error
	// Search returns at most topK results, best first.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]models.SearchResult, error)
	DeleteCollection(ctx context.Context, name string) error
	Close() error
}

// CollectionName derives a collection name for a new document:
// the hex form of a random UUID with a .pdf suffix.
func CollectionName() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "") + ".pdf"
}

// CheckUpsert validates that chunks and vectors line up.
func CheckUpsert(chunks []models.Chunk, vectors [][]float32, dim int) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if dim > 0 && len(v) != dim {
			return fmt.Errorf("vector %d has %d dimensions, want %d: %w", i, len(v), dim, ErrDimensionMismatch)
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func Cosine(a, b []float32) float32 {
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
