// Package splitter cuts pages into overlapping chunks using langchaingo's
// recursive character splitter.
package splitter

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/askmypdf/backend/internal/models"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	metaPage      = "page"
	metaPageLabel = "page_label"
	metaSource    = "source"
)

// Splitter turns pages into chunks whose ids are prefixed with collection.
type Splitter interface {
	Split(pages []models.Page, collection string) ([]models.Chunk, error)
}

// Recursive wraps textsplitter.RecursiveCharacter.
type Recursive struct {
	size    int
	overlap int
	ts      textsplitter.TextSplitter
}

// NewRecursive creates a splitter measuring chunk length in runes.
func NewRecursive(chunkSize, chunkOverlap int) (*Recursive, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}

	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	return &Recursive{size: chunkSize, overlap: chunkOverlap, ts: ts}, nil
}

// Split returns chunks in page order. Page metadata is carried onto every
// chunk cut from that page.
func (r *Recursive) Split(pages []models.Page, collection string) ([]models.Chunk, error) {
	docs := make([]schema.Document, 0, len(pages))
	for _, p := range pages {
		docs = append(docs, schema.Document{
			PageContent: p.Content,
			Metadata: map[string]any{
				metaPage:      p.Number,
				metaPageLabel: p.Label,
				metaSource:    p.Source,
			},
		})
	}

	split, err := textsplitter.SplitDocuments(r.ts, docs)
	if err != nil {
		return nil, fmt.Errorf("splitting documents: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(split))
	for _, d := range split {
		if d.PageContent == "" {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, models.Chunk{
			ID:        collection + ":" + strconv.Itoa(idx),
			Content:   d.PageContent,
			Page:      intMeta(d.Metadata, metaPage),
			PageLabel: stringMeta(d.Metadata, metaPageLabel),
			Source:    stringMeta(d.Metadata, metaSource),
			Index:     idx,
		})
	}
	return chunks, nil
}

func intMeta(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringMeta(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
