package semantic

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// MemoryStore is an in-process Store using exact cosine search. Writes hold
// the lock for the whole operation, so a replace is atomic to readers.
type MemoryStore struct {
	dim int

	mu     sync.RWMutex
	chunks map[string]domain.Chunk
	byDoc  map[string]map[string]struct{}
}

// NewMemoryStore creates an empty store for vectors of length dim.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:    dim,
		chunks: make(map[string]domain.Chunk),
		byDoc:  make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Dimension() int { return m.dim }

func (m *MemoryStore) Upsert(_ context.Context, chunks []domain.Chunk) error {
	if err := validateWrite(chunks, m.dim, ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.put(c)
	}
	return nil
}

func (m *MemoryStore) DeleteByDocument(_ context.Context, document string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(document)
	return nil
}

func (m *MemoryStore) ReplaceDocument(_ context.Context, document string, chunks []domain.Chunk) error {
	if err := validateWrite(chunks, m.dim, document); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(document)
	for _, c := range chunks {
		m.put(c)
	}
	return nil
}

// put stores a private copy of c. Callers hold the write lock.
func (m *MemoryStore) put(c domain.Chunk) {
	if old, ok := m.chunks[c.ID]; ok && old.DocumentName != c.DocumentName {
		delete(m.byDoc[old.DocumentName], c.ID)
	}
	c.Embedding = append([]float32(nil), c.Embedding...)
	if c.Metadata != nil {
		meta := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		c.Metadata = meta
	}
	m.chunks[c.ID] = c
	ids := m.byDoc[c.DocumentName]
	if ids == nil {
		ids = make(map[string]struct{})
		m.byDoc[c.DocumentName] = ids
	}
	ids[c.ID] = struct{}{}
}

func (m *MemoryStore) drop(document string) {
	for id := range m.byDoc[document] {
		delete(m.chunks, id)
	}
	delete(m.byDoc, document)
}

func (m *MemoryStore) Search(ctx context.Context, vec []float32, topK int, types []domain.ChunkType) ([]domain.RetrievedResult, error) {
	if err := validateQuery(vec, m.dim); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	want := typeSet(types)
	qn := norm(vec)

	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]domain.RetrievedResult, 0, len(m.chunks))
	for _, c := range m.chunks {
		if want != nil {
			if _, ok := want[c.Type]; !ok {
				continue
			}
		}
		results = append(results, domain.RetrievedResult{
			Chunk: c,
			Score: similarity(dot(vec, c.Embedding) / (qn * norm(c.Embedding))),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rankResults(results, topK), nil
}

func (m *MemoryStore) FileHashFor(_ context.Context, document string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id := range m.byDoc[document] {
		return m.chunks[id].SourceFileHash, true, nil
	}
	return "", false, nil
}

func (m *MemoryStore) Status(_ context.Context) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{Backend: "memory", Partition: PartitionName("memory", m.dim), Dimension: m.dim, TotalChunks: len(m.chunks)}
	for doc, ids := range m.byDoc {
		ds := DocumentStatus{Name: doc, Chunks: len(ids)}
		for id := range ids {
			ds.FileHash = m.chunks[id].SourceFileHash
			break
		}
		st.Documents = append(st.Documents, ds)
	}
	sort.Slice(st.Documents, func(i, j int) bool { return st.Documents[i].Name < st.Documents[j].Name })
	return st, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 { return math.Sqrt(dot(v, v)) }
