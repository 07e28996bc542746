package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultLocalDimension is the vector size of the local hashing provider.
const DefaultLocalDimension = 384

// HashProvider embeds text offline by hashing character trigrams of each
// word into a fixed number of buckets and L2-normalizing the counts. Texts
// sharing word fragments land close together, which is enough for tests and
// air-gapped development. It ignores the task.
type HashProvider struct {
	dim int
}

// NewHashProvider returns a HashProvider producing dim-length vectors.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = DefaultLocalDimension
	}
	return &HashProvider{dim: dim}
}

func (h *HashProvider) Model() string { return fmt.Sprintf("local-trigram-%d", h.dim) }

// Dimension returns the vector size.
func (h *HashProvider) Dimension() int { return h.dim }

func (h *HashProvider) Embed(ctx context.Context, texts []string, _ Task) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := h.vector(t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashProvider) vector(text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}
	counts := make([]float64, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		rs := []rune("^" + w + "$")
		for i := 0; i+3 <= len(rs); i++ {
			counts[h.bucket(string(rs[i:i+3]))]++
		}
	}
	if len(words) == 0 {
		// Punctuation only: fall back to single characters.
		for _, r := range text {
			if !unicode.IsSpace(r) {
				counts[h.bucket(string(r))]++
			}
		}
	}
	var norm float64
	for _, c := range counts {
		norm += c * c
	}
	norm = math.Sqrt(norm)
	v := make([]float32, h.dim)
	for i, c := range counts {
		v[i] = float32(c / norm)
	}
	return v, nil
}

func (h *HashProvider) bucket(gram string) int {
	f := fnv.New32a()
	f.Write([]byte(gram))
	return int(f.Sum32() % uint32(h.dim))
}
