// Package domain defines the core types, error kinds and validation shared by
// the ingestion and assessment engines.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ChunkType is the advisory content label assigned to every chunk.
type ChunkType string

const (
	ChunkRegulatoryRule ChunkType = "regulatory_rule"
	ChunkProcedure      ChunkType = "procedure"
	ChunkRequirement    ChunkType = "requirement"
	ChunkDefinition     ChunkType = "definition"
	ChunkExample        ChunkType = "example"
	ChunkSchedule       ChunkType = "schedule"
	ChunkGeneral        ChunkType = "general"
)

// ChunkTypes lists every valid chunk type.
var ChunkTypes = []ChunkType{
	ChunkRegulatoryRule,
	ChunkProcedure,
	ChunkRequirement,
	ChunkDefinition,
	ChunkExample,
	ChunkSchedule,
	ChunkGeneral,
}

// Valid reports whether t belongs to the closed set of chunk types.
func (t ChunkType) Valid() bool {
	for _, ct := range ChunkTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// ParseChunkType converts a stored label back into a ChunkType.
func ParseChunkType(s string) (ChunkType, error) {
	t := ChunkType(s)
	if !t.Valid() {
		return "", NewValidationError("chunk_type", s, ErrUnknownChunkType)
	}
	return t, nil
}

// SourceDocument is a document read once per ingestion run. Name is its
// identity in the store: the slash path relative to the source root, so
// eu/policy.pdf and us/policy.pdf are different documents.
type SourceDocument struct {
	Path string
	Name string
	Hash string
	Data []byte
}

// NewSourceDocument hashes data and derives the document name from p.
func NewSourceDocument(p string, data []byte) SourceDocument {
	return SourceDocument{
		Path: p,
		Name: DocumentName(p),
		Hash: FileHash(data),
		Data: data,
	}
}

// DocumentName normalises a source path into a document identity: slash
// separated, cleaned, with no leading slash.
func DocumentName(p string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
}

// FileHash returns the hex MD5 of the raw file bytes.
func FileHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// PageText maps 1-based page numbers to extracted text.
type PageText map[int]string

// Pages returns the page numbers in ascending order.
func (p PageText) Pages() []int {
	pages := make([]int, 0, len(p))
	for n := range p {
		pages = append(pages, n)
	}
	sort.Ints(pages)
	return pages
}

// Chunk is a bounded segment of document text with its metadata and embedding.
type Chunk struct {
	ID             string            `json:"chunk_id"`
	DocumentName   string            `json:"document_name"`
	SourceFileHash string            `json:"source_file_hash"`
	PageNumber     *int              `json:"page_number,omitempty"`
	Index          int               `json:"chunk_index"`
	Content        string            `json:"content"`
	Type           ChunkType         `json:"chunk_type"`
	TokenCount     int               `json:"token_count"`
	WordCount      int               `json:"word_count"`
	Embedding      []float32         `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Page returns the page label used in prompts and citations.
func (c Chunk) Page() string {
	if c.PageNumber == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *c.PageNumber)
}

// RetrievedResult pairs a chunk with its query-time similarity.
type RetrievedResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"similarity_score"`
	Rank  int     `json:"relevance_rank"`
}
