package models

// Page is the extracted text of one PDF page plus where it came from.
type Page struct {
	Content    string `json:"content"`
	Number     int    `json:"page"`      // 0-based
	Label      string `json:"pageLabel"` // printed page number, 1-based
	Source     string `json:"source"`
	TotalPages int    `json:"totalPages"`
}

// Chunk is a piece of a page sized for embedding and retrieval.
type Chunk struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Page      int    `json:"page"`
	PageLabel string `json:"pageLabel"`
	Source    string `json:"source"`
	Index     int    `json:"index"`
}

// SearchResult is a chunk returned by similarity search.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// SourceRefs converts search results into page references for a reply.
func SourceRefs(results []SearchResult) []SourceRef {
	refs := make([]SourceRef, 0, len(results))
	for _, r := range results {
		refs = append(refs, SourceRef{
			Page:      r.Chunk.Page,
			PageLabel: r.Chunk.PageLabel,
			Source:    r.Chunk.Source,
			Score:     r.Score,
		})
	}
	return refs
}
