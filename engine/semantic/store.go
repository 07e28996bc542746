// Package semantic persists chunk embeddings and answers similarity queries.
// Each backend keeps one partition per embedding dimension so vectors of
// different providers never share an index.
package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// Store is the vector store contract used by ingestion and retrieval.
// Failures reaching the backend are reported with kind domain.ErrVectorStore.
type Store interface {
	// Dimension is the fixed vector length of this partition.
	Dimension() int
	// Upsert writes chunks, replacing rows with the same chunk id.
	Upsert(ctx context.Context, chunks []domain.Chunk) error
	// DeleteByDocument removes every chunk of document.
	DeleteByDocument(ctx context.Context, document string) error
	// ReplaceDocument swaps all chunks of document for chunks. Readers never
	// see old and new chunks of document together. Backends without
	// transactions may briefly show the document with no chunks.
	ReplaceDocument(ctx context.Context, document string, chunks []domain.Chunk) error
	// Search returns at most topK chunks by descending similarity, optionally
	// restricted to types.
	Search(ctx context.Context, vec []float32, topK int, types []domain.ChunkType) ([]domain.RetrievedResult, error)
	// FileHashFor returns the stored source hash of document, if any.
	FileHashFor(ctx context.Context, document string) (string, bool, error)
	Status(ctx context.Context) (Status, error)
}

// Status describes what a store holds.
type Status struct {
	Backend     string           `json:"backend"`
	Partition   string           `json:"partition"`
	Dimension   int              `json:"dimension"`
	TotalChunks int              `json:"total_chunks"`
	Documents   []DocumentStatus `json:"documents,omitempty"`
}

// DocumentStatus is the stored state of one source document.
type DocumentStatus struct {
	Name     string `json:"name"`
	FileHash string `json:"file_hash"`
	Chunks   int    `json:"chunks"`
}

// PartitionName names the per-dimension collection or table under base.
func PartitionName(base string, dim int) string {
	return fmt.Sprintf("%s_%d", base, dim)
}

// validateWrite checks chunks before they reach a backend. A non-empty
// document requires every chunk to belong to it.
func validateWrite(chunks []domain.Chunk, dim int, document string) error {
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if err := domain.ValidateChunk(c, dim); err != nil {
			return err
		}
		if document != "" && c.DocumentName != document {
			return domain.NewValidationError("document_name", c.DocumentName, domain.ErrInvalidChunk)
		}
		if _, dup := seen[c.ID]; dup {
			return domain.NewValidationError("chunk_id", c.ID, domain.ErrInvalidChunk)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// validateQuery rejects query vectors of the wrong length, and zero vectors,
// which have no direction to compare.
func validateQuery(vec []float32, dim int) error {
	if len(vec) != dim {
		return domain.NewValidationError("query_vector", fmt.Sprintf("len=%d want=%d", len(vec), dim), domain.ErrDimensionMismatch)
	}
	for _, v := range vec {
		if v != 0 {
			return nil
		}
	}
	return domain.NewValidationError("query_vector", fmt.Sprintf("len=%d", len(vec)), domain.ErrZeroVector)
}

// similarity maps a cosine similarity onto [0,1]. Opposed vectors and
// undefined (NaN) similarities score 0.
func similarity(cos float64) float64 {
	switch {
	case math.IsNaN(cos), cos < 0:
		return 0
	case cos > 1:
		return 1
	}
	return cos
}

// rankResults orders by descending score, breaking ties by chunk id, keeps
// topK and assigns 1-based ranks.
func rankResults(results []domain.RetrievedResult, topK int) []domain.RetrievedResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if topK >= 0 && len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func typeSet(types []domain.ChunkType) map[domain.ChunkType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[domain.ChunkType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func typeStrings(types []domain.ChunkType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
