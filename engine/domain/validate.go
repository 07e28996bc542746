package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxConcernLength bounds the concern text accepted by an assessment.
const MaxConcernLength = 4000

// ValidateConcern checks the caller-supplied concern before retrieval.
func ValidateConcern(concern string) error {
	text := strings.TrimSpace(concern)
	if text == "" {
		return NewValidationError("concern", concern, ErrEmptyConcern)
	}
	if n := utf8.RuneCountInString(text); n > MaxConcernLength {
		return NewValidationError("concern", fmt.Sprintf("%d runes", n), ErrConcernTooLong)
	}
	return nil
}

// ValidateEmbedding rejects vectors that do not fit an index of dimension dim.
// A dim of zero skips the length check.
func ValidateEmbedding(vec []float32, dim int) error {
	if len(vec) == 0 {
		return NewValidationError("embedding", "empty", ErrDimensionMismatch)
	}
	if dim > 0 && len(vec) != dim {
		return NewValidationError("embedding", fmt.Sprintf("len=%d want=%d", len(vec), dim), ErrDimensionMismatch)
	}
	for _, v := range vec {
		if v != 0 {
			return nil
		}
	}
	return NewValidationError("embedding", fmt.Sprintf("len=%d", len(vec)), ErrZeroVector)
}

// ValidateChunk checks a chunk is ready to be persisted in an index of
// dimension dim.
func ValidateChunk(c Chunk, dim int) error {
	if c.ID == "" {
		return NewValidationError("chunk_id", "", ErrInvalidChunk)
	}
	if c.DocumentName == "" {
		return NewValidationError("document_name", c.ID, ErrInvalidChunk)
	}
	if !c.Type.Valid() {
		return NewValidationError("chunk_type", string(c.Type), ErrUnknownChunkType)
	}
	if err := ValidateEmbedding(c.Embedding, dim); err != nil {
		return fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	return nil
}
