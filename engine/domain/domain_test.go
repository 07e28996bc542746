package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestChunkTypeValid(t *testing.T) {
	for _, ct := range ChunkTypes {
		if !ct.Valid() {
			t.Errorf("%s should be valid", ct)
		}
	}
	if ChunkType("policy").Valid() {
		t.Error("policy should not be valid")
	}
}

func TestParseChunkType(t *testing.T) {
	ct, err := ParseChunkType("schedule")
	if err != nil || ct != ChunkSchedule {
		t.Fatalf("got %q, %v", ct, err)
	}
	_, err = ParseChunkType("nope")
	if !errors.Is(err, ErrUnknownChunkType) {
		t.Errorf("expected ErrUnknownChunkType, got %v", err)
	}
}

func TestNewSourceDocument(t *testing.T) {
	doc := NewSourceDocument("/corpus/gdpr.pdf", []byte("hello"))
	if doc.Name != "corpus/gdpr.pdf" {
		t.Errorf("name = %q", doc.Name)
	}
	// md5("hello")
	if doc.Hash != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("hash = %q", doc.Hash)
	}
	if FileHash([]byte("hello!")) == doc.Hash {
		t.Error("different content must hash differently")
	}
}

func TestDocumentName(t *testing.T) {
	cases := map[string]string{
		"policy.pdf":           "policy.pdf",
		"eu/policy.pdf":        "eu/policy.pdf",
		"./us//policy.pdf":     "us/policy.pdf",
		"/corpus/eu/gdpr.pdf":  "corpus/eu/gdpr.pdf",
		"../../etc/policy.pdf": "etc/policy.pdf",
	}
	for in, want := range cases {
		if got := DocumentName(in); got != want {
			t.Errorf("DocumentName(%q) = %q, want %q", in, got, want)
		}
	}
	if NewSourceDocument("eu/policy.pdf", nil).Name == NewSourceDocument("us/policy.pdf", nil).Name {
		t.Error("same file name in different folders must be distinct documents")
	}
}

func TestPageTextPages(t *testing.T) {
	pt := PageText{3: "c", 1: "a", 2: "b"}
	got := fmt.Sprint(pt.Pages())
	if got != "[1 2 3]" {
		t.Errorf("pages = %s", got)
	}
}

func TestChunkPage(t *testing.T) {
	p := 4
	if (Chunk{PageNumber: &p}).Page() != "4" {
		t.Error("expected page 4")
	}
	if (Chunk{}).Page() != "unknown" {
		t.Error("expected unknown page")
	}
}

func TestErrorIsKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrVectorStore, "search", cause)
	if !errors.Is(err, ErrVectorStore) {
		t.Error("expected ErrVectorStore")
	}
	if errors.Is(err, ErrEmbeddingProvider) {
		t.Error("unexpected ErrEmbeddingProvider")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should unwrap")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("not a timeout")
	}
}

func TestErrorTimeout(t *testing.T) {
	err := Wrap(ErrEmbeddingProvider, "embed", fmt.Errorf("post: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrTimeout) {
		t.Error("deadline should match ErrTimeout")
	}
	if !errors.Is(err, ErrEmbeddingProvider) {
		t.Error("kind should still match")
	}
	if KindOf(err) != "timeout" {
		t.Errorf("KindOf = %q", KindOf(err))
	}
}

func TestWrapIdempotent(t *testing.T) {
	inner := Wrap(ErrGenerationProvider, "complete", errors.New("500"))
	outer := Wrap(ErrGenerationProvider, "assess", inner)
	if outer != inner {
		t.Error("re-wrapping with the same kind should return the original")
	}
	if Wrap(ErrExtraction, "x", nil) != nil {
		t.Error("nil in, nil out")
	}
}

func TestWrapDocument(t *testing.T) {
	err := WrapDocument(ErrExtraction, "extract", "a.pdf", errors.New("no pages"))
	if !strings.Contains(err.Error(), "a.pdf") {
		t.Errorf("message should name the document: %v", err)
	}
	if KindOf(err) != "extraction" {
		t.Errorf("KindOf = %q", KindOf(err))
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]error{
		"":                    nil,
		"embedding_provider":  Wrap(ErrEmbeddingProvider, "op", errors.New("x")),
		"vector_store":        Wrap(ErrVectorStore, "op", errors.New("x")),
		"generation_provider": Wrap(ErrGenerationProvider, "op", errors.New("x")),
		"invalid_input":       NewValidationError("concern", "", ErrEmptyConcern),
		"internal":            errors.New("boom"),
	}
	for want, err := range cases {
		if got := KindOf(err); got != want {
			t.Errorf("KindOf(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestValidateConcern(t *testing.T) {
	if err := ValidateConcern("Do we need encryption?"); err != nil {
		t.Errorf("unexpected: %v", err)
	}
	if err := ValidateConcern("   "); !errors.Is(err, ErrEmptyConcern) {
		t.Errorf("expected ErrEmptyConcern, got %v", err)
	}
	long := strings.Repeat("a", MaxConcernLength+1)
	if err := ValidateConcern(long); !errors.Is(err, ErrConcernTooLong) {
		t.Errorf("expected ErrConcernTooLong, got %v", err)
	}
}

func TestValidateEmbedding(t *testing.T) {
	if err := ValidateEmbedding([]float32{0.1, 0.2}, 2); err != nil {
		t.Errorf("unexpected: %v", err)
	}
	if err := ValidateEmbedding([]float32{0.1}, 2); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := ValidateEmbedding(nil, 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch for empty, got %v", err)
	}
	if err := ValidateEmbedding([]float32{0, 0}, 2); !errors.Is(err, ErrZeroVector) {
		t.Errorf("expected ErrZeroVector, got %v", err)
	}
}

func TestValidateChunk(t *testing.T) {
	c := Chunk{ID: "a.pdf:p1:c0:abcd", DocumentName: "a.pdf", Type: ChunkGeneral, Embedding: []float32{1, 0}}
	if err := ValidateChunk(c, 2); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	bad := c
	bad.Type = "misc"
	if err := ValidateChunk(bad, 2); !errors.Is(err, ErrUnknownChunkType) {
		t.Errorf("expected ErrUnknownChunkType, got %v", err)
	}

	bad = c
	bad.ID = ""
	if err := ValidateChunk(bad, 2); !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("expected ErrInvalidChunk, got %v", err)
	}

	bad = c
	bad.Embedding = []float32{1, 0, 0}
	if err := ValidateChunk(bad, 2); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("chunk_size", "0", ErrInvalidConfig)
	if !strings.Contains(err.Error(), "chunk_size") || !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unexpected error: %v", err)
	}
}
