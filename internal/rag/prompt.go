package rag

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/askmypdf/backend/internal/models"
)

const contextSeparator = "\n\n\n"

// BuildContext renders search results as the context block of the system
// prompt, one excerpt per result.
func BuildContext(results []models.SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("Page Content: %s\nPage Number: %s\nFile Location: %s",
			r.Chunk.Content, pageNumber(r.Chunk), r.Chunk.Source))
	}
	return strings.Join(parts, contextSeparator)
}

func pageNumber(c models.Chunk) string {
	if c.PageLabel != "" {
		return c.PageLabel
	}
	return fmt.Sprint(c.Page + 1)
}

// Prompt renders the system prompt template.
type Prompt struct {
	tmpl *template.Template
}

// NewPrompt parses a template that may reference {{.Context}}.
func NewPrompt(text string) (*Prompt, error) {
	tmpl, err := template.New("system").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing system prompt: %w", err)
	}
	return &Prompt{tmpl: tmpl}, nil
}

// Render substitutes the retrieved context.
func (p *Prompt) Render(context string) (string, error) {
	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, struct{ Context string }{Context: context}); err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return sb.String(), nil
}

// BuildMessages puts the system prompt first, followed by the last window
// user/assistant turns of history (all of them when window <= 0). System
// turns already in history are dropped.
func BuildMessages(system string, history []models.Message, window int) []models.Message {
	turns := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleSystem {
			continue
		}
		turns = append(turns, models.Message{Role: m.Role, Content: m.Content})
	}
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	out := make([]models.Message, 0, len(turns)+1)
	out = append(out, models.Message{Role: models.RoleSystem, Content: system})
	return append(out, turns...)
}
