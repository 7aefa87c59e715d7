package testutil

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/askmypdf/backend/internal/models"
)

// FakeEmbedder hashes words into a fixed-size bag-of-words vector, so texts
// sharing words score higher under cosine similarity.
type FakeEmbedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
}

// NewFakeEmbedder creates a FakeEmbedder with 256 dimensions.
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{Dim: 256}
}

func (f *FakeEmbedder) Name() string { return "fake" }

func (f *FakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.Err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *FakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Calls returns how many embedding requests were made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeEmbedder) vector(text string) []float32 {
	v := make([]float32, f.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(f.Dim)]++
	}
	return v
}

// FakeLoader returns canned pages, stamping the requested source on them.
type FakeLoader struct {
	Pages []models.Page
	Err   error
	// Gate, when set, blocks Load until it is closed or ctx ends.
	Gate chan struct{}
}

func (f *FakeLoader) Load(ctx context.Context, _ string, source string) ([]models.Page, error) {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]models.Page, len(f.Pages))
	for i, p := range f.Pages {
		p.Source = source
		out[i] = p
	}
	return out, nil
}

// TextPages builds one page per text with 0-based numbers and 1-based labels.
func TextPages(texts ...string) []models.Page {
	pages := make([]models.Page, len(texts))
	for i, t := range texts {
		pages[i] = models.Page{
			Content:    t,
			Number:     i,
			Label:      strconv.Itoa(i + 1),
			TotalPages: len(texts),
		}
	}
	return pages
}

// FakeCompleter returns a canned reply and records what it was asked.
type FakeCompleter struct {
	Reply string
	Err   error

	mu           sync.Mutex
	calls        int
	lastKey      string
	lastMessages []models.Message
}

func (f *FakeCompleter) record(apiKey string, msgs []models.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastKey = apiKey
	f.lastMessages = append([]models.Message(nil), msgs...)
	return f.Reply, f.Err
}

func (f *FakeCompleter) Complete(_ context.Context, apiKey string, msgs []models.Message) (string, error) {
	return f.record(apiKey, msgs)
}

// Stream delivers the reply word by word.
func (f *FakeCompleter) Stream(_ context.Context, apiKey string, msgs []models.Message, onDelta func(string) error) (string, error) {
	reply, err := f.record(apiKey, msgs)
	if err != nil {
		return "", err
	}
	words := strings.SplitAfter(reply, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if onDelta != nil {
			if err := onDelta(w); err != nil {
				return "", err
			}
		}
	}
	return reply, nil
}

// Calls returns the number of completions requested.
func (f *FakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastKey returns the API key passed to the most recent call.
func (f *FakeCompleter) LastKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastKey
}

// LastMessages returns the messages sent in the most recent call.
func (f *FakeCompleter) LastMessages() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.lastMessages...)
}
