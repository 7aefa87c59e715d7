package qdrant

import (
	"context"
	"testing"

	"github.com/askmypdf/backend/internal/models"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID_Stable(t *testing.T) {
	a := pointID("abc.pdf:0")
	assert.Equal(t, a, pointID("abc.pdf:0"))
	assert.NotEqual(t, a, pointID("abc.pdf:1"))
	assert.Len(t, a, 36)
}

func TestPayloadRoundTrip(t *testing.T) {
	chunk := models.Chunk{
		ID:        "abc.pdf:7",
		Content:   "The warranty lasts two years.",
		Page:      11,
		PageLabel: "12",
		Source:    "warranty.pdf",
		Index:     7,
	}

	points := toPoints([]models.Chunk{chunk}, [][]float32{{0.1, 0.2}})
	require.Len(t, points, 1)
	assert.Equal(t, []float32{0.1, 0.2}, points[0].GetVectors().GetVector().GetData())
	assert.Equal(t, pointID(chunk.ID), points[0].GetId().GetUuid())

	scored := []*pb.ScoredPoint{{
		Id:      points[0].GetId(),
		Payload: points[0].GetPayload(),
		Score:   0.87,
	}}
	results := fromScoredPoints(scored)
	require.Len(t, results, 1)
	assert.Equal(t, chunk, results[0].Chunk)
	assert.InDelta(t, 0.87, results[0].Score, 1e-6)
}

func TestFromScoredPoints_MissingPayload(t *testing.T) {
	results := fromScoredPoints([]*pb.ScoredPoint{{Score: 0.5}})
	require.Len(t, results, 1)
	assert.Equal(t, models.Chunk{}, results[0].Chunk)
}

func TestUpsert_RejectsMismatchedInput(t *testing.T) {
	s, err := Dial(Options{Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)
	defer s.Close()

	err = s.Upsert(context.Background(), "c.pdf", []models.Chunk{{ID: "a"}}, nil)
	assert.Error(t, err)

	// empty batches never touch the network
	assert.NoError(t, s.Upsert(context.Background(), "c.pdf", nil, nil))
}
