package chunker

import "github.com/WessleyAI/regcheck/engine/domain"

// Stats summarizes a chunked document.
type Stats struct {
	TotalChunks int                      `json:"total_chunks"`
	TotalTokens int                      `json:"total_tokens"`
	AvgTokens   float64                  `json:"avg_tokens"`
	Pages       int                      `json:"pages"`
	ByType      map[domain.ChunkType]int `json:"by_type"`
}

// Summarize computes Stats over chunks.
func Summarize(chunks []domain.Chunk) Stats {
	st := Stats{TotalChunks: len(chunks), ByType: make(map[domain.ChunkType]int)}
	pages := make(map[int]struct{})
	for _, c := range chunks {
		st.TotalTokens += c.TokenCount
		st.ByType[c.Type]++
		if c.PageNumber != nil {
			pages[*c.PageNumber] = struct{}{}
		}
	}
	st.Pages = len(pages)
	if st.TotalChunks > 0 {
		st.AvgTokens = float64(st.TotalTokens) / float64(st.TotalChunks)
	}
	return st
}
