package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// Cache stores opaque values with a time to live.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// CachedProvider serves repeated texts from a Cache and forwards only the
// misses to the wrapped Provider. Cache failures are logged and bypassed.
type CachedProvider struct {
	next   Provider
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedProvider wraps next with cache. A zero ttl keeps entries for 24h.
func NewCachedProvider(next Provider, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedProvider) Model() string { return c.next.Model() }

func (c *CachedProvider) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, t := range texts {
		raw, ok, err := c.cache.Get(ctx, c.key(t, task))
		if err != nil {
			c.logger.Warn("embedding: cache get failed", "err", err)
		}
		if ok {
			if v, err := decodeVector(raw); err == nil {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts, task)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	dim := batchDimension(c.next, vecs)
	for j, i := range missIdx {
		out[i] = vecs[j]
		// Bad vectors are returned for the gateway to reject but never
		// cached, so a retry asks the provider again.
		if err := domain.ValidateEmbedding(vecs[j], dim); err != nil {
			c.logger.Warn("embedding: not caching invalid vector", "err", err)
			continue
		}
		if err := c.cache.Set(ctx, c.key(texts[i], task), encodeVector(vecs[j]), c.ttl); err != nil {
			c.logger.Warn("embedding: cache set failed", "err", err)
		}
	}
	return out, nil
}

// batchDimension is the provider's declared dimension, or else the most
// common vector length in vecs.
func batchDimension(p Provider, vecs [][]float32) int {
	if d, ok := p.(interface{ Dimension() int }); ok && d.Dimension() > 0 {
		return d.Dimension()
	}
	counts := make(map[int]int)
	best := 0
	for _, v := range vecs {
		counts[len(v)]++
		if counts[len(v)] > counts[best] || (counts[len(v)] == counts[best] && len(v) > best) {
			best = len(v)
		}
	}
	return best
}

// key scopes entries by model and task so a query vector never answers for
// a document vector.
func (c *CachedProvider) key(text string, task Task) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s:%s", c.next.Model(), task, hex.EncodeToString(sum[:]))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector of %d bytes", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
