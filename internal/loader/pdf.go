// Package loader turns an uploaded PDF into per-page documents.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/askmypdf/backend/internal/models"
	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when no page yields any text, typically a scanned
// or image-only document.
var ErrNoText = errors.New("no extractable text in document")

// Loader loads a document from disk. source is recorded on every page.
type Loader interface {
	Load(ctx context.Context, path, source string) ([]models.Page, error)
}

// document is the slice of a parsed PDF the loader needs.
type document interface {
	NumPage() int
	// PageText returns ok=false for pages without a content object.
	PageText(n int) (text string, ok bool, err error)
}

type pdfDocument struct {
	r *pdf.Reader
}

func (d pdfDocument) NumPage() int { return d.r.NumPage() }

func (d pdfDocument) PageText(n int) (string, bool, error) {
	p := d.r.Page(n)
	if p.V.IsNull() {
		return "", false, nil
	}
	text, err := p.GetPlainText(nil)
	return text, true, err
}

func openPDF(path string) (document, io.Closer, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return pdfDocument{r: r}, f, nil
}

// pageText turns a panic while extracting one page into that page's error.
func pageText(doc document, n int) (text string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, ok, err = "", true, fmt.Errorf("extracting page %d: %v", n, r)
		}
	}()
	return doc.PageText(n)
}

// PDFLoader extracts plain text page by page with ledongthuc/pdf.
type PDFLoader struct {
	open func(path string) (document, io.Closer, error)
}

// NewPDFLoader creates a PDF loader.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{open: openPDF}
}

// Load returns one Page per page that has text. Page numbers are 0-based,
// labels 1-based.
func (l *PDFLoader) Load(ctx context.Context, path, source string) (pages []models.Page, err error) {
	// the pdf package panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parsing PDF %s: %v", source, r)
		}
	}()

	doc, closer, err := l.open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF %s: %w", source, err)
	}
	defer closer.Close()

	total := doc.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, ok, perr := pageText(doc, i)
		if !ok {
			continue
		}
		if perr != nil {
			fmt.Printf("[Loader] %s: skipping page %d: %v\n", source, i, perr)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		pages = append(pages, models.Page{
			Content:    text,
			Number:     i - 1,
			Label:      strconv.Itoa(i),
			Source:     source,
			TotalPages: total,
		})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrNoText)
	}
	return pages, nil
}
