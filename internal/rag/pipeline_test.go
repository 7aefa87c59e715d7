package rag

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/splitter"
	"github.com/askmypdf/backend/internal/testutil"
	"github.com/askmypdf/backend/internal/vectorstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	loader   *testutil.FakeLoader
	embedder *testutil.FakeEmbedder
	store    *memory.Store
	chat     *testutil.FakeCompleter
	pipeline *Pipeline
}

func newFixture(t *testing.T, pages ...string) *fixture {
	t.Helper()
	sp, err := splitter.NewRecursive(80, 10)
	require.NoError(t, err)
	prompt, err := NewPrompt("CTX:\n{{.Context}}")
	require.NoError(t, err)

	f := &fixture{
		loader:   &testutil.FakeLoader{Pages: testutil.TextPages(pages...)},
		embedder: testutil.NewFakeEmbedder(),
		store:    memory.New(),
		chat:     &testutil.FakeCompleter{Reply: "See page 2."},
	}
	f.pipeline = NewPipeline(f.loader, sp, f.embedder, f.store, f.chat, prompt,
		Options{TopK: 2, BatchSize: 2, HistoryWindow: 0})
	return f
}

func TestPipeline_IndexAndRetrieve(t *testing.T) {
	f := newFixture(t,
		"Shipping usually takes five business days.",
		"Refunds are issued within thirty days of purchase.",
		"Contact support by email for warranty claims.",
	)
	ctx := context.Background()

	var mu sync.Mutex
	var stages []string
	var last float64
	res, err := f.pipeline.Index(ctx, "/tmp/doc.pdf", "policy.pdf", "abc.pdf", func(stage string, pct float64) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, stage)
		assert.GreaterOrEqual(t, pct, last, "progress must not go backwards")
		last = pct
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 2, f.embedder.Calls(), "3 chunks in batches of 2")

	assert.Equal(t, StageLoading, stages[0])
	assert.Contains(t, stages, StageSplitting)
	assert.Contains(t, stages, StageEmbedding)
	assert.Contains(t, stages, StageStoring)
	assert.Equal(t, StageDone, stages[len(stages)-1])
	assert.Equal(t, 100.0, last)

	results, err := f.pipeline.Retrieve(ctx, "abc.pdf", "refunds days")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "2", results[0].Chunk.PageLabel)
	assert.Equal(t, "policy.pdf", results[0].Chunk.Source)
}

func TestPipeline_IndexErrors(t *testing.T) {
	t.Run("loader failure", func(t *testing.T) {
		f := newFixture(t, "text")
		f.loader.Err = errors.New("corrupt")
		_, err := f.pipeline.Index(context.Background(), "p", "s.pdf", "c.pdf", nil)
		assert.EqualError(t, err, "corrupt")
	})

	t.Run("no chunks", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pipeline.Index(context.Background(), "p", "s.pdf", "c.pdf", nil)
		assert.ErrorIs(t, err, ErrNoChunks)
	})

	t.Run("embedder failure", func(t *testing.T) {
		f := newFixture(t, "text")
		f.embedder.Err = errors.New("quota exceeded")
		_, err := f.pipeline.Index(context.Background(), "p", "s.pdf", "c.pdf", nil)
		assert.ErrorContains(t, err, "quota exceeded")
		assert.Equal(t, 0, f.store.Collections())
	})
}

func TestPipeline_Answer(t *testing.T) {
	f := newFixture(t, "Refunds take thirty days.")
	ctx := context.Background()
	_, err := f.pipeline.Index(ctx, "p", "policy.pdf", "c.pdf", nil)
	require.NoError(t, err)

	results, err := f.pipeline.Retrieve(ctx, "c.pdf", "refunds")
	require.NoError(t, err)

	history := []models.Message{models.NewMessage(models.RoleUser, "refunds?")}
	reply, err := f.pipeline.Answer(ctx, "user-key", results, history)
	require.NoError(t, err)
	assert.Equal(t, "See page 2.", reply)
	assert.Equal(t, "user-key", f.chat.LastKey())

	sent := f.chat.LastMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, models.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[0].Content, "Page Content: Refunds take thirty days.")
	assert.Contains(t, sent[0].Content, "File Location: policy.pdf")
	assert.Equal(t, "refunds?", sent[1].Content)
}

func TestPipeline_AnswerStream(t *testing.T) {
	f := newFixture(t, "anything")

	var parts []string
	reply, err := f.pipeline.AnswerStream(context.Background(), "", nil,
		[]models.Message{models.NewMessage(models.RoleUser, "hi")},
		func(d string) error {
			parts = append(parts, d)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "See page 2.", reply)
	assert.Equal(t, []string{"See ", "page ", "2."}, parts)
}

func TestPipeline_Drop(t *testing.T) {
	f := newFixture(t, "text to index")
	ctx := context.Background()
	_, err := f.pipeline.Index(ctx, "p", "s.pdf", "c.pdf", nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.store.Collections())

	require.NoError(t, f.pipeline.Drop(ctx, "c.pdf"))
	assert.Equal(t, 0, f.store.Collections())
}
