package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrExtraction         = errors.New("extraction error")
	ErrEmbeddingProvider  = errors.New("embedding provider error")
	ErrVectorStore        = errors.New("vector store error")
	ErrGenerationProvider = errors.New("generation provider error")
	ErrTimeout            = errors.New("provider timeout")
)

// Sentinel errors for validation failures.
var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrZeroVector        = errors.New("zero embedding vector")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownChunkType  = errors.New("unknown chunk type")
	ErrInvalidChunk      = errors.New("invalid chunk")
	ErrEmptyConcern      = errors.New("empty concern")
	ErrConcernTooLong    = errors.New("concern too long")
)

// Error attaches a kind from the taxonomy above to an underlying cause.
// It matches its Kind, and ErrTimeout when the cause is a deadline.
type Error struct {
	Kind     error
	Op       string
	Document string
	Err      error
}

func (e *Error) Error() string {
	if e.Document != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Document, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind membership.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return target == ErrTimeout && errors.Is(e.Err, context.DeadlineExceeded)
}

// Wrap tags err with kind. Errors already carrying kind are returned as is.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapDocument is Wrap for failures scoped to one source document.
func WrapDocument(kind error, op, document string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind == kind && de.Document != "" {
		return err
	}
	return &Error{Kind: kind, Op: op, Document: document, Err: err}
}

// KindOf returns a short label for the error kind, used in logs, metrics and
// error replies.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrEmbeddingProvider):
		return "embedding_provider"
	case errors.Is(err, ErrVectorStore):
		return "vector_store"
	case errors.Is(err, ErrGenerationProvider):
		return "generation_provider"
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrEmptyConcern), errors.Is(err, ErrConcernTooLong):
		return "invalid_input"
	default:
		return "internal"
	}
}

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
