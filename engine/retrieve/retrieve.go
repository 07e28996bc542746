// Package retrieve implements two-pass hybrid search: a type-targeted pass
// for precision, and an unrestricted pass when the first finds too little.
package retrieve

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// DefaultTargetTypes are the chunk types treated as authoritative for
// compliance questions.
var DefaultTargetTypes = []domain.ChunkType{
	domain.ChunkRegulatoryRule,
	domain.ChunkRequirement,
	domain.ChunkProcedure,
	domain.ChunkSchedule,
}

// QueryEmbedder embeds a search query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the similarity search half of a vector store.
type Searcher interface {
	Search(ctx context.Context, vec []float32, topK int, types []domain.ChunkType) ([]domain.RetrievedResult, error)
}

// Options tunes the retriever.
type Options struct {
	TargetTypes []domain.ChunkType
	// MinTargeted is the targeted result count below which the
	// unrestricted pass runs.
	MinTargeted int
	MaxResults  int
}

// DefaultOptions returns a fallback threshold of 5 and 10 results.
func DefaultOptions() Options {
	return Options{TargetTypes: DefaultTargetTypes, MinTargeted: 5, MaxResults: 10}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.MaxResults < 1 {
		return domain.NewValidationError("max_results", strconv.Itoa(o.MaxResults), domain.ErrInvalidConfig)
	}
	if o.MinTargeted < 0 {
		return domain.NewValidationError("min_targeted", strconv.Itoa(o.MinTargeted), domain.ErrInvalidConfig)
	}
	for _, t := range o.TargetTypes {
		if !t.Valid() {
			return domain.NewValidationError("target_types", string(t), domain.ErrUnknownChunkType)
		}
	}
	return nil
}

// Retriever runs hybrid search over a store.
type Retriever struct {
	embed  QueryEmbedder
	search Searcher
	opts   Options
	logger *slog.Logger
}

// New creates a Retriever.
func New(embed QueryEmbedder, search Searcher, opts Options, logger *slog.Logger) (*Retriever, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embed: embed, search: search, opts: opts, logger: logger}, nil
}

// Options returns the retriever's settings.
func (r *Retriever) Options() Options { return r.opts }

// Retrieve returns up to maxResults chunks for query, refined by the
// optional extra context. A non-positive maxResults uses the configured
// default. Provider and store failures are returned as is; an empty result
// is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query, extra string, maxResults int) ([]domain.RetrievedResult, error) {
	if maxResults <= 0 {
		maxResults = r.opts.MaxResults
	}
	vec, err := r.embed.EmbedQuery(ctx, ComposeQuery(query, extra))
	if err != nil {
		return nil, err
	}

	var targeted []domain.RetrievedResult
	if len(r.opts.TargetTypes) > 0 {
		targeted, err = r.search.Search(ctx, vec, maxResults, r.opts.TargetTypes)
		if err != nil {
			return nil, err
		}
	}
	if len(targeted) >= r.opts.MinTargeted && len(targeted) > 0 {
		r.logger.Debug("retrieve: targeted pass sufficient", "results", len(targeted))
		return Merge(maxResults, targeted), nil
	}

	broad, err := r.search.Search(ctx, vec, maxResults, nil)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("retrieve: fallback pass", "targeted", len(targeted), "broad", len(broad))
	return Merge(maxResults, targeted, broad), nil
}

// ComposeQuery joins the concern and its optional context into one search text.
func ComposeQuery(query, extra string) string {
	query = strings.TrimSpace(query)
	if extra = strings.TrimSpace(extra); extra != "" {
		return query + "\n" + extra
	}
	return query
}

// Merge deduplicates result sets by chunk id, keeping the higher score,
// then orders by descending score (ties by chunk id), truncates to max and
// renumbers ranks from 1.
func Merge(max int, sets ...[]domain.RetrievedResult) []domain.RetrievedResult {
	best := make(map[string]domain.RetrievedResult)
	for _, set := range sets {
		for _, r := range set {
			if cur, ok := best[r.Chunk.ID]; !ok || r.Score > cur.Score {
				best[r.Chunk.ID] = r
			}
		}
	}
	out := make([]domain.RetrievedResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if len(out) > max {
		out = out[:max]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
