package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/WessleyAI/regcheck/engine/domain"
	"github.com/WessleyAI/regcheck/pkg/fn"
)

// Source lists and reads source documents.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// Report summarizes one ingestion run.
type Report struct {
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Processed []Outcome `json:"processed"`
	Skipped   []Outcome `json:"skipped"`
	Failed    []Outcome `json:"failed"`
	Removed   []Outcome `json:"removed,omitempty"`
	// Unsupported lists paths no extractor can read.
	Unsupported []string `json:"unsupported,omitempty"`
}

// Chunks is the number of chunks written during the run.
func (r Report) Chunks() int {
	n := 0
	for _, o := range r.Processed {
		n += o.Chunks
	}
	return n
}

func (r *Report) add(out Outcome) {
	switch out.Status {
	case StatusProcessed:
		r.Processed = append(r.Processed, out)
	case StatusSkipped:
		r.Skipped = append(r.Skipped, out)
	case StatusRemoved:
		r.Removed = append(r.Removed, out)
	default:
		r.Failed = append(r.Failed, out)
	}
}

// Runner ingests every document of a source with a bounded worker pool.
type Runner struct {
	source   Source
	ingester *Ingester
	workers  int
	logger   *slog.Logger
}

// NewRunner creates a Runner. workers below 1 means 1.
func NewRunner(source Source, ingester *Ingester, workers int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{source: source, ingester: ingester, workers: workers, logger: logger}
}

// IngestAll ingests every supported document, skipping unchanged ones.
func (r *Runner) IngestAll(ctx context.Context) (Report, error) {
	return r.run(ctx, false)
}

// Reload re-lists the source and ingests it again. force re-processes
// documents whose hash did not change.
func (r *Runner) Reload(ctx context.Context, force bool) (Report, error) {
	r.logger.Info("ingest: reload", "force", force)
	return r.run(ctx, force)
}

// IngestPath reads and ingests a single document.
func (r *Runner) IngestPath(ctx context.Context, path string, force bool) (Outcome, error) {
	data, err := r.source.Read(ctx, path)
	if err != nil {
		err = domain.WrapDocument(domain.ErrExtraction, "read", path, err)
		return Outcome{Document: path, Status: StatusFailed, Kind: domain.KindOf(err), Error: err.Error()}, err
	}
	return r.ingester.Ingest(ctx, domain.NewSourceDocument(path, data), force)
}

func (r *Runner) run(ctx context.Context, force bool) (Report, error) {
	rep := Report{Started: time.Now().UTC()}
	paths, err := r.source.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("ingest: list source: %w", err)
	}
	sort.Strings(paths)

	var todo []string
	for _, p := range paths {
		if r.ingester.Supports(p) {
			todo = append(todo, p)
		} else {
			rep.Unsupported = append(rep.Unsupported, p)
		}
	}

	// Failures are per-document; they land in the report, never abort the run.
	results := fn.ParMapResult(ctx, todo, r.workers, func(ctx context.Context, p string) fn.Result[Outcome] {
		out, _ := r.IngestPath(ctx, p, force)
		return fn.Ok(out)
	})
	for i, res := range results {
		out, err := res.Unwrap()
		if err != nil {
			out = Outcome{Document: todo[i], Status: StatusFailed, Kind: domain.KindOf(err), Error: err.Error()}
		}
		rep.add(out)
	}
	rep.Finished = time.Now().UTC()
	r.logger.Info("ingest: run complete",
		"processed", len(rep.Processed),
		"skipped", len(rep.Skipped),
		"failed", len(rep.Failed),
		"unsupported", len(rep.Unsupported),
		"chunks", rep.Chunks(),
		"duration", rep.Finished.Sub(rep.Started),
	)
	return rep, ctx.Err()
}

// Sync applies incremental source changes: changed documents are ingested
// (unchanged hashes still skip) and removed ones are deleted from the store.
// Paths no extractor supports are reported and otherwise ignored.
func (r *Runner) Sync(ctx context.Context, changed, removed []string) Report {
	rep := Report{Started: time.Now().UTC()}
	for _, p := range removed {
		if !r.ingester.Supports(p) {
			continue
		}
		out, err := r.ingester.Remove(ctx, p)
		if err != nil {
			rep.Failed = append(rep.Failed, out)
			continue
		}
		rep.Removed = append(rep.Removed, out)
	}
	for _, p := range changed {
		if !r.ingester.Supports(p) {
			rep.Unsupported = append(rep.Unsupported, p)
			continue
		}
		out, _ := r.IngestPath(ctx, p, false)
		rep.add(out)
	}
	rep.Finished = time.Now().UTC()
	r.logger.Info("ingest: sync complete",
		"processed", len(rep.Processed), "skipped", len(rep.Skipped),
		"failed", len(rep.Failed), "removed", len(rep.Removed))
	return rep
}
