// Package embedding converts text into vectors for similarity search.
package embedding

import "context"

// Embedder converts free text into vectors. EmbedDocuments returns one vector
// per input, in input order.
type Embedder interface {
	Name() string
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
