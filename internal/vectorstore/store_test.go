package vectorstore

import (
	"strings"
	"testing"

	"github.com/askmypdf/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCollectionName(t *testing.T) {
	a := CollectionName()
	b := CollectionName()

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".pdf"))
	assert.Len(t, strings.TrimSuffix(a, ".pdf"), 32)
	assert.NotContains(t, a, "-")
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-6)
		})
	}
}

func TestCheckUpsert(t *testing.T) {
	chunks := []models.Chunk{{ID: "a"}, {ID: "b"}}

	assert.NoError(t, CheckUpsert(chunks, [][]float32{{1, 2}, {3, 4}}, 2))
	assert.Error(t, CheckUpsert(chunks, [][]float32{{1, 2}}, 2))
	assert.ErrorIs(t, CheckUpsert(chunks, [][]float32{{1, 2}, {3}}, 2), ErrDimensionMismatch)
}
