// Package rag sequences the delegated calls: load, split, embed, store,
// retrieve and complete.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/askmypdf/backend/internal/embedding"
	"github.com/askmypdf/backend/internal/llm"
	"github.com/askmypdf/backend/internal/loader"
	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/splitter"
	"github.com/askmypdf/backend/internal/vectorstore"
)

// Indexing stages reported to ProgressFunc.
const (
	StageLoading   = "loading"
	StageSplitting = "splitting"
	StageEmbedding = "embedding"
	StageStoring   = "storing"
	StageDone      = "done"
)

// ErrNoChunks is returned when a document produced nothing to embed.
var ErrNoChunks = errors.New("document produced no chunks")

// ProgressFunc receives the current stage and overall percent (0-100).
type ProgressFunc func(stage string, percent float64)

// Options tunes the pipeline.
type Options struct {
	TopK          int
	BatchSize     int
	HistoryWindow int
}

// IndexResult summarizes an indexing run.
type IndexResult struct {
	Pages    int
	Chunks   int
	Duration time.Duration
}

// Pipeline wires the loader, splitter, embedder, vector store and chat model.
type Pipeline struct {
	loader   loader.Loader
	splitter splitter.Splitter
	embedder embedding.Embedder
	store    vectorstore.Store
	chat     llm.Completer
	prompt   *Prompt
	opts     Options
}

// NewPipeline creates a pipeline.
func NewPipeline(l loader.Loader, s splitter.Splitter, e embedding.Embedder, vs vectorstore.Store,
	chat llm.Completer, prompt *Prompt, opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	return &Pipeline{
		loader:   l,
		splitter: s,
		embedder: e,
		store:    vs,
		chat:     chat,
		prompt:   prompt,
		opts:     opts,
	}
}

// StoreName reports which vector store backs the pipeline.
func (p *Pipeline) StoreName() string { return p.store.Name() }

// Index loads the PDF at path, splits it, embeds every chunk and writes the
// vectors into collection. source is recorded as the chunks' file location.
func (p *Pipeline) Index(ctx context.Context, path, source, collection string, progress ProgressFunc) (*IndexResult, error) {
	began := time.Now()
	report := func(stage string, pct float64) {
		if progress != nil {
			progress(stage, pct)
		}
	}

	report(StageLoading, 0)
	pages, err := p.loader.Load(ctx, path, source)
	if err != nil {
		return nil, err
	}

	report(StageSplitting, 10)
	chunks, err := p.splitter.Split(pages, collection)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	created := false
	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		end := start + p.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		report(StageEmbedding, 20+75*float64(start)/float64(len(chunks)))

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		if !created {
			if err := p.store.CreateCollection(ctx, collection, len(vectors[0])); err != nil {
				return nil, err
			}
			created = true
		}

		if err := p.store.Upsert(ctx, collection, batch, vectors); err != nil {
			return nil, err
		}
		report(StageStoring, 20+75*float64(end)/float64(len(chunks)))
	}

	report(StageDone, 100)
	return &IndexResult{Pages: len(pages), Chunks: len(chunks), Duration: time.Since(began)}, nil
}

// Retrieve embeds the query and returns the top-k chunks of collection.
func (p *Pipeline) Retrieve(ctx context.Context, collection, query string) ([]models.SearchResult, error) {
	vec, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return p.store.Search(ctx, collection, vec, p.opts.TopK)
}

func (p *Pipeline) messages(results []models.SearchResult, history []models.Message) ([]models.Message, error) {
	system, err := p.prompt.Render(BuildContext(results))
	if err != nil {
		return nil, err
	}
	return BuildMessages(system, history, p.opts.HistoryWindow), nil
}

// Answer asks the chat model to reply to the conversation using results as
// context. history must already end with the user's question.
func (p *Pipeline) Answer(ctx context.Context, apiKey string, results []models.SearchResult, history []models.Message) (string, error) {
	msgs, err := p.messages(results, history)
	if err != nil {
		return "", err
	}
	return p.chat.Complete(ctx, apiKey, msgs)
}

// AnswerStream is Answer with incremental delivery.
func (p *Pipeline) AnswerStream(ctx context.Context, apiKey string, results []models.SearchResult,
	history []models.Message, onDelta func(string) error) (string, error) {
	msgs, err := p.messages(results, history)
	if err != nil {
		return "", err
	}
	return p.chat.Stream(ctx, apiKey, msgs, onDelta)
}

// Drop deletes a document's collection.
func (p *Pipeline) Drop(ctx context.Context, collection string) error {
	return p.store.DeleteCollection(ctx, collection)
}
