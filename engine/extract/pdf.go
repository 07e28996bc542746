package extract

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

type pdfReader struct {
	r *pdf.Reader
}

// OpenPDF parses PDF bytes.
func OpenPDF(data []byte) (PageReader, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	return &pdfReader{r: r}, nil
}

func (p *pdfReader) NumPage() int { return p.r.NumPage() }

func (p *pdfReader) PageText(n int) (string, error) {
	page := p.r.Page(n)
	if page.V.IsNull() {
		return "", errors.New("pdf: missing page object")
	}
	return page.GetPlainText(nil)
}

// textReader treats a plain text file as a single page.
type textReader string

// OpenText wraps plain text as a one-page document.
func OpenText(data []byte) (PageReader, error) {
	return textReader(data), nil
}

func (t textReader) NumPage() int { return 1 }

func (t textReader) PageText(n int) (string, error) {
	if n != 1 {
		return "", fmt.Errorf("text: no page %d", n)
	}
	return string(t), nil
}
