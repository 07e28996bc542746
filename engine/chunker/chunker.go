// Package chunker turns extracted page text into classified, overlapping
// chunks sized in tokens.
package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/regcheck/engine/domain"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Classifier assigns a chunk type to chunk text.
type Classifier interface {
	Classify(text string) domain.ChunkType
}

// Options configures chunk sizing.
type Options struct {
	ChunkSize  int
	Overlap    int
	Counter    Counter
	Separators []string
}

// DefaultOptions returns 1000-token chunks with a 200-token overlap.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap, Counter: HeuristicCounter{}}
}

// Validate enforces 0 <= overlap < chunk size.
func (o Options) Validate() error {
	return validateSizing(o.ChunkSize, o.Overlap)
}

func validateSizing(size, overlap int) error {
	if size <= 0 {
		return domain.NewValidationError("chunk_size", strconv.Itoa(size), domain.ErrInvalidConfig)
	}
	if overlap < 0 || overlap >= size {
		return domain.NewValidationError("chunk_overlap", strconv.Itoa(overlap), domain.ErrInvalidConfig)
	}
	return nil
}

// Chunker splits page-marked text into classified chunks.
type Chunker struct {
	splitter   *Splitter
	counter    Counter
	classifier Classifier
	now        func() time.Time
}

// New creates a Chunker. It fails when the sizing is invalid.
func New(opts Options, classifier Classifier) (*Chunker, error) {
	sp, err := NewSplitter(opts.ChunkSize, opts.Overlap, opts.Counter, opts.Separators)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	return &Chunker{
		splitter:   sp,
		counter:    sp.counter,
		classifier: classifier,
		now:        time.Now,
	}, nil
}

var pageMarkerRe = regexp.MustCompile(`\[PAGE (\d+)\]`)

// section is the text of one page, or of the whole input when it carries no
// page markers.
type section struct {
	page   *int
	text   string
	offset int
}

func sections(text string) []section {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []section{{text: text}}
	}
	var out []section
	if pre := text[:locs[0][0]]; strings.TrimSpace(pre) != "" {
		out = append(out, section{text: pre})
	}
	for i, loc := range locs {
		n, _ := strconv.Atoi(text[loc[2]:loc[3]])
		page := n
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, section{page: &page, text: text[loc[1]:end], offset: loc[1]})
	}
	return out
}

// Chunk splits text into chunks for doc. Pages are hard boundaries: a chunk
// never spans two [PAGE n] markers, and consecutive chunks of a page overlap.
// Chunks are numbered in document order.
func (c *Chunker) Chunk(doc domain.SourceDocument, text string) []domain.Chunk {
	created := c.now().UTC().Format(time.RFC3339)
	var chunks []domain.Chunk
	for _, sec := range sections(text) {
		for _, seg := range c.splitter.Split(sec.text) {
			content := strings.TrimSpace(pageMarkerRe.ReplaceAllString(seg.Text, ""))
			if content == "" {
				continue
			}
			idx := len(chunks)
			ct := domain.ChunkGeneral
			if c.classifier != nil {
				ct = c.classifier.Classify(content)
			}
			chunks = append(chunks, domain.Chunk{
				ID:             ChunkID(doc.Name, sec.page, idx, content),
				DocumentName:   doc.Name,
				SourceFileHash: doc.Hash,
				PageNumber:     sec.page,
				Index:          idx,
				Content:        content,
				Type:           ct,
				TokenCount:     c.counter.Count(content),
				WordCount:      len(strings.Fields(content)),
				Metadata: map[string]string{
					"chunk_index": strconv.Itoa(idx),
					"char_start":  strconv.Itoa(sec.offset + seg.Start),
					"char_end":    strconv.Itoa(sec.offset + seg.End),
					"source_path": doc.Path,
					"created_at":  created,
				},
			})
		}
	}
	return chunks
}

// ChunkID derives a stable id from the document, position and content.
// Re-chunking unchanged text reproduces the same ids.
func ChunkID(document string, page *int, index int, content string) string {
	sum := md5.Sum([]byte(content))
	p := 0
	if page != nil {
		p = *page
	}
	return fmt.Sprintf("%s:p%d:c%d:%s", document, p, index, hex.EncodeToString(sum[:])[:8])
}
