package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/WessleyAI/regcheck/engine/domain"
)

func mkChunk(doc string, i int, ct domain.ChunkType, vec ...float32) domain.Chunk {
	page := i + 1
	return domain.Chunk{
		ID:             fmt.Sprintf("%s:p%d:c%d", doc, page, i),
		DocumentName:   doc,
		SourceFileHash: "hash-" + doc,
		PageNumber:     &page,
		Index:          i,
		Content:        fmt.Sprintf("%s chunk %d", doc, i),
		Type:           ct,
		Embedding:      vec,
		Metadata:       map[string]string{"chunk_index": fmt.Sprint(i)},
	}
}

func seeded(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(3)
	err := s.Upsert(context.Background(), []domain.Chunk{
		mkChunk("a.pdf", 0, domain.ChunkRegulatoryRule, 1, 0, 0),
		mkChunk("a.pdf", 1, domain.ChunkGeneral, 0, 1, 0),
		mkChunk("b.pdf", 0, domain.ChunkRequirement, 0.7, 0.7, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMemorySearchIdenticalRanksFirst(t *testing.T) {
	s := seeded(t)
	res, err := s.Search(context.Background(), []float32{0, 1, 0}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res))
	}
	if res[0].Chunk.ID != "a.pdf:p2:c1" || math.Abs(res[0].Score-1) > 1e-6 {
		t.Errorf("top = %s %.4f", res[0].Chunk.ID, res[0].Score)
	}
	for i, r := range res {
		if r.Rank != i+1 {
			t.Errorf("rank %d = %d", i, r.Rank)
		}
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score out of range: %f", r.Score)
		}
		if i > 0 && r.Score > res[i-1].Score {
			t.Error("results not descending")
		}
	}
}

func TestMemorySearchFilterAndTopK(t *testing.T) {
	s := seeded(t)
	res, _ := s.Search(context.Background(), []float32{1, 0, 0}, 10, []domain.ChunkType{domain.ChunkRequirement, domain.ChunkProcedure})
	if len(res) != 1 || res[0].Chunk.Type != domain.ChunkRequirement {
		t.Errorf("filter ignored: %+v", res)
	}
	res, _ = s.Search(context.Background(), []float32{1, 0, 0}, 1, nil)
	if len(res) != 1 || res[0].Chunk.ID != "a.pdf:p1:c0" {
		t.Errorf("topK = 1: %+v", res)
	}
	if res, _ := s.Search(context.Background(), []float32{1, 0, 0}, 0, nil); res != nil {
		t.Error("topK 0 should return nothing")
	}
}

func TestMemorySearchOpposedScoresZero(t *testing.T) {
	s := NewMemoryStore(2)
	s.Upsert(context.Background(), []domain.Chunk{mkChunk("a", 0, domain.ChunkGeneral, -1, 0)})
	res, _ := s.Search(context.Background(), []float32{1, 0}, 5, nil)
	if len(res) != 1 || res[0].Score != 0 {
		t.Errorf("opposed vector score = %+v", res)
	}
}

func TestMemoryEmptyStore(t *testing.T) {
	res, err := NewMemoryStore(3).Search(context.Background(), []float32{1, 0, 0}, 5, nil)
	if err != nil || len(res) != 0 {
		t.Errorf("empty store: %v %v", res, err)
	}
}

func TestMemoryRejectsWrongDimension(t *testing.T) {
	s := seeded(t)
	if _, err := s.Search(context.Background(), []float32{1, 0}, 5, nil); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("query: expected dimension mismatch, got %v", err)
	}
	err := s.Upsert(context.Background(), []domain.Chunk{mkChunk("c", 0, domain.ChunkGeneral, 1, 0)})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("write: expected dimension mismatch, got %v", err)
	}
	err = s.Upsert(context.Background(), []domain.Chunk{mkChunk("c", 0, domain.ChunkGeneral, 0, 0, 0)})
	if !errors.Is(err, domain.ErrZeroVector) {
		t.Errorf("expected zero vector rejection, got %v", err)
	}
}

func TestMemoryRejectsZeroQuery(t *testing.T) {
	s := seeded(t)
	res, err := s.Search(context.Background(), []float32{0, 0, 0}, 5, nil)
	if !errors.Is(err, domain.ErrZeroVector) || res != nil {
		t.Errorf("zero query: res=%v err=%v", res, err)
	}
}

func TestSimilarityBounds(t *testing.T) {
	for in, want := range map[float64]float64{-0.5: 0, 0.3: 0.3, 1.0000001: 1, math.NaN(): 0} {
		if got := similarity(in); got != want {
			t.Errorf("similarity(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestMemoryUpsertIdempotent(t *testing.T) {
	s := seeded(t)
	c := mkChunk("a.pdf", 0, domain.ChunkRegulatoryRule, 1, 0, 0)
	c.Content = "updated"
	s.Upsert(context.Background(), []domain.Chunk{c})
	st, _ := s.Status(context.Background())
	if st.TotalChunks != 3 {
		t.Errorf("upsert duplicated a row: %d", st.TotalChunks)
	}
	res, _ := s.Search(context.Background(), []float32{1, 0, 0}, 1, nil)
	if res[0].Chunk.Content != "updated" {
		t.Error("upsert did not replace content")
	}
}

func TestMemoryReplaceAndDelete(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	fresh := mkChunk("a.pdf", 5, domain.ChunkDefinition, 0, 0, 1)
	fresh.SourceFileHash = "hash-a2"
	if err := s.ReplaceDocument(ctx, "a.pdf", []domain.Chunk{fresh}); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Status(ctx)
	if st.TotalChunks != 2 || len(st.Documents) != 2 || st.Documents[0].Chunks != 1 {
		t.Errorf("status after replace = %+v", st)
	}
	if h, ok, _ := s.FileHashFor(ctx, "a.pdf"); !ok || h != "hash-a2" {
		t.Errorf("hash = %q %v", h, ok)
	}
	if h, ok, _ := s.FileHashFor(ctx, "b.pdf"); !ok || h != "hash-b.pdf" {
		t.Errorf("other document touched: %q %v", h, ok)
	}

	other := mkChunk("b.pdf", 9, domain.ChunkGeneral, 1, 1, 1)
	if err := s.ReplaceDocument(ctx, "a.pdf", []domain.Chunk{other}); !errors.Is(err, domain.ErrInvalidChunk) {
		t.Errorf("foreign chunk accepted: %v", err)
	}

	if err := s.DeleteByDocument(ctx, "a.pdf"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.FileHashFor(ctx, "a.pdf"); ok {
		t.Error("deleted document still has a hash")
	}
}

func TestMemoryReplaceIsAtomicToReaders(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	gen := func(tag string) []domain.Chunk {
		out := make([]domain.Chunk, 4)
		for i := range out {
			out[i] = mkChunk("doc", i, domain.ChunkGeneral, 1, float32(i+1))
			out[i].SourceFileHash = tag
		}
		return out
	}
	s.ReplaceDocument(ctx, "doc", gen("old"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.ReplaceDocument(ctx, "doc", gen(fmt.Sprint(i%2)))
		}
	}()
	for i := 0; i < 200; i++ {
		res, err := s.Search(ctx, []float32{1, 1}, 10, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 4 {
			t.Fatalf("reader saw %d chunks", len(res))
		}
		for _, r := range res[1:] {
			if r.Chunk.SourceFileHash != res[0].Chunk.SourceFileHash {
				t.Fatal("reader saw a mix of old and new chunks")
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestMemoryCopiesOnWrite(t *testing.T) {
	s := NewMemoryStore(2)
	c := mkChunk("a", 0, domain.ChunkGeneral, 1, 0)
	s.Upsert(context.Background(), []domain.Chunk{c})
	c.Embedding[0] = 0
	c.Embedding[1] = 1
	res, _ := s.Search(context.Background(), []float32{1, 0}, 1, nil)
	if res[0].Score < 0.999 {
		t.Error("store aliased the caller's embedding")
	}
}

func TestRankResultsTieBreak(t *testing.T) {
	in := []domain.RetrievedResult{
		{Chunk: domain.Chunk{ID: "b"}, Score: 0.5},
		{Chunk: domain.Chunk{ID: "a"}, Score: 0.5},
		{Chunk: domain.Chunk{ID: "c"}, Score: 0.9},
	}
	out := rankResults(in, 10)
	if out[0].Chunk.ID != "c" || out[1].Chunk.ID != "a" || out[2].Chunk.ID != "b" {
		t.Errorf("order = %s %s %s", out[0].Chunk.ID, out[1].Chunk.ID, out[2].Chunk.ID)
	}
}

func TestPartitionName(t *testing.T) {
	if got := PartitionName("regcheck_chunks", 768); got != "regcheck_chunks_768" {
		t.Errorf("got %s", got)
	}
}

func TestStoresSatisfyInterface(t *testing.T) {
	var _ Store = (*MemoryStore)(nil)
	var _ Store = (*QdrantStore)(nil)
	var _ Store = (*PostgresStore)(nil)
}
