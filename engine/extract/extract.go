// Package extract pulls per-page text out of source documents.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// ErrNoPages is the cause when a document yields no usable page.
var ErrNoPages = errors.New("no extractable pages")

// PageReader gives random access to the pages of one document.
// Pages are numbered from 1.
type PageReader interface {
	NumPage() int
	PageText(n int) (string, error)
}

// Opener parses raw document bytes into a PageReader.
type Opener func(data []byte) (PageReader, error)

// Extractor maps document formats to openers.
type Extractor struct {
	openers map[string]Opener
	logger  *slog.Logger
}

// New returns an Extractor that handles .pdf and plain text (.txt, .md).
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		openers: map[string]Opener{
			".pdf": OpenPDF,
			".txt": OpenText,
			".md":  OpenText,
		},
		logger: logger,
	}
}

// Register adds or replaces the opener for a file extension.
func (e *Extractor) Register(ext string, open Opener) {
	e.openers[strings.ToLower(ext)] = open
}

// Supports reports whether the document's extension has an opener.
func (e *Extractor) Supports(path string) bool {
	_, ok := e.openers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract returns the text of every readable page. Unreadable pages are
// logged and skipped; a document with no readable page fails with
// domain.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, doc domain.SourceDocument) (domain.PageText, error) {
	open, ok := e.openers[strings.ToLower(filepath.Ext(doc.Path))]
	if !ok {
		return nil, domain.WrapDocument(domain.ErrExtraction, "extract", doc.Name,
			fmt.Errorf("unsupported format %q", filepath.Ext(doc.Path)))
	}
	r, err := openSafe(open, doc.Data)
	if err != nil {
		return nil, domain.WrapDocument(domain.ErrExtraction, "open", doc.Name, err)
	}

	pages := make(domain.PageText)
	for n := 1; n <= r.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := readPage(r, n)
		if err != nil {
			e.logger.Warn("extract: page skipped", "document", doc.Name, "page", n, "err", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages[n] = text
	}
	if len(pages) == 0 {
		return nil, domain.WrapDocument(domain.ErrExtraction, "extract", doc.Name, ErrNoPages)
	}
	e.logger.Debug("extract: done", "document", doc.Name, "pages", len(pages), "total", r.NumPage())
	return pages, nil
}

// readPage isolates parser panics on corrupt pages.
func readPage(r PageReader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: panic: %v", n, rec)
		}
	}()
	return r.PageText(n)
}

func openSafe(open Opener, data []byte) (r PageReader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return open(data)
}
