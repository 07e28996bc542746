// Package ingest runs source documents through extraction, chunking,
// embedding and storage. Re-ingesting an unchanged document is a no-op; a
// changed document has its chunks replaced in one store operation.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/regcheck/engine/chunker"
	"github.com/WessleyAI/regcheck/engine/domain"
	"github.com/WessleyAI/regcheck/engine/embedding"
	"github.com/WessleyAI/regcheck/pkg/fn"
	"github.com/WessleyAI/regcheck/pkg/metrics"
)

// Extractor reads page text from a document.
type Extractor interface {
	Supports(path string) bool
	Extract(ctx context.Context, doc domain.SourceDocument) (domain.PageText, error)
}

// Chunker splits assembled page text into chunks.
type Chunker interface {
	Chunk(doc domain.SourceDocument, text string) []domain.Chunk
}

// Embedder embeds chunk text in document mode.
type Embedder interface {
	Embed(ctx context.Context, texts []string, task embedding.Task) ([][]float32, error)
}

// Store is the part of the vector store ingestion writes to.
type Store interface {
	FileHashFor(ctx context.Context, document string) (string, bool, error)
	ReplaceDocument(ctx context.Context, document string, chunks []domain.Chunk) error
	DeleteByDocument(ctx context.Context, document string) error
}

// Deps holds the collaborators of an Ingester.
type Deps struct {
	Extractor Extractor
	Chunker   Chunker
	Embedder  Embedder
	Store     Store
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Status is the result of ingesting one document.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusRemoved   Status = "removed"
)

// Outcome describes one ingested document.
type Outcome struct {
	Document string        `json:"document"`
	Status   Status        `json:"status"`
	Chunks   int           `json:"chunks"`
	Stats    chunker.Stats `json:"stats"`
	Kind     string        `json:"error_kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// --- Pipeline stages ---

type extracted struct {
	doc   domain.SourceDocument
	pages domain.PageText
}

type chunked struct {
	doc    domain.SourceDocument
	chunks []domain.Chunk
}

// NewExtract creates the extraction stage.
func NewExtract(ex Extractor) fn.Stage[domain.SourceDocument, extracted] {
	return func(ctx context.Context, doc domain.SourceDocument) fn.Result[extracted] {
		pages, err := ex.Extract(ctx, doc)
		if err != nil {
			return fn.Err[extracted](err)
		}
		return fn.Ok(extracted{doc: doc, pages: pages})
	}
}

// NewChunk creates the chunking stage. Classification happens inside the
// chunker so every chunk leaves this stage labeled.
func NewChunk(ck Chunker) fn.Stage[extracted, chunked] {
	return func(_ context.Context, in extracted) fn.Result[chunked] {
		chunks := ck.Chunk(in.doc, chunker.Assemble(in.pages))
		if len(chunks) == 0 {
			return fn.Err[chunked](domain.WrapDocument(domain.ErrExtraction, "chunk", in.doc.Name,
				fmt.Errorf("no text left after cleaning")))
		}
		return fn.Ok(chunked{doc: in.doc, chunks: chunks})
	}
}

// NewEmbed creates the embedding stage. The embedder batches the request.
func NewEmbed(em Embedder) fn.Stage[chunked, chunked] {
	return func(ctx context.Context, in chunked) fn.Result[chunked] {
		texts := make([]string, len(in.chunks))
		for i, c := range in.chunks {
			texts[i] = c.Content
		}
		vecs, err := em.Embed(ctx, texts, embedding.TaskDocument)
		if err != nil {
			return fn.Err[chunked](domain.WrapDocument(domain.ErrEmbeddingProvider, "embed", in.doc.Name, err))
		}
		for i := range in.chunks {
			in.chunks[i].Embedding = vecs[i]
		}
		return fn.Ok(in)
	}
}

// NewStore creates the storage stage, replacing the document's chunks.
func NewStore(st Store) fn.Stage[chunked, chunked] {
	return func(ctx context.Context, in chunked) fn.Result[chunked] {
		if err := st.ReplaceDocument(ctx, in.doc.Name, in.chunks); err != nil {
			return fn.Err[chunked](domain.WrapDocument(domain.ErrVectorStore, "store", in.doc.Name, err))
		}
		return fn.Ok(in)
	}
}

// NewPipeline composes Extract → Chunk → Embed → Store with tracing and
// stage logging.
func NewPipeline(deps Deps) fn.Stage[domain.SourceDocument, chunked] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	stage := func(name string, s fn.Stage[chunked, chunked]) fn.Stage[chunked, chunked] {
		return fn.TracedStage("ingest."+name, fn.LoggedStage(name, log, s))
	}
	extract := fn.TracedStage("ingest.extract", fn.LoggedStage("extract", log, NewExtract(deps.Extractor)))
	chunk := fn.TracedStage("ingest.chunk", fn.LoggedStage("chunk", log, NewChunk(deps.Chunker)))
	return fn.Then(fn.Then(extract, chunk), fn.Pipeline(stage("embed", NewEmbed(deps.Embedder)), stage("store", NewStore(deps.Store))))
}

// Ingester ingests single documents. Runs for the same document are
// serialized; different documents proceed in parallel.
type Ingester struct {
	deps     Deps
	pipeline fn.Stage[domain.SourceDocument, chunked]
	locks    *keyedMutex
	logger   *slog.Logger

	outcomes *metrics.CounterVec
	chunks   *metrics.Counter
	duration *metrics.Histogram
}

// New creates an Ingester. Deps.Metrics and Deps.Logger may be nil.
func New(deps Deps) *Ingester {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Ingester{
		deps:     deps,
		pipeline: NewPipeline(deps),
		locks:    newKeyedMutex(),
		logger:   deps.Logger,
		outcomes: deps.Metrics.CounterVec("regcheck_documents_total", "Documents by ingestion outcome.", "outcome"),
		chunks:   deps.Metrics.Counter("regcheck_chunks_written_total", "Chunks written to the vector store."),
		duration: deps.Metrics.Histogram("regcheck_ingest_document_seconds", "Per-document ingestion latency.", nil),
	}
}

// Supports reports whether the extractor can read path.
func (in *Ingester) Supports(path string) bool { return in.deps.Extractor.Supports(path) }

// Ingest processes doc. Unless force is set, a document whose stored hash
// equals doc.Hash is skipped. On failure the store keeps the previous
// chunks, so the next run retries the document.
func (in *Ingester) Ingest(ctx context.Context, doc domain.SourceDocument, force bool) (Outcome, error) {
	unlock := in.locks.Lock(doc.Name)
	defer unlock()

	start := time.Now()
	log := in.logger.With("document", doc.Name, "hash", doc.Hash)
	out := Outcome{Document: doc.Name}
	finish := func(st Status, err error) (Outcome, error) {
		out.Status = st
		out.Duration = time.Since(start)
		if err != nil {
			out.Kind = domain.KindOf(err)
			out.Error = err.Error()
			log.Error("ingest: document failed", "kind", out.Kind, "err", err)
		}
		in.outcomes.With(string(st)).Inc()
		in.duration.Since(start)
		return out, err
	}

	if !force {
		stored, ok, err := in.deps.Store.FileHashFor(ctx, doc.Name)
		if err != nil {
			return finish(StatusFailed, domain.WrapDocument(domain.ErrVectorStore, "hash lookup", doc.Name, err))
		}
		if ok && stored == doc.Hash {
			log.Info("ingest: document skipped", "reason", "unchanged")
			return finish(StatusSkipped, nil)
		}
	}

	res, err := in.pipeline(ctx, doc).Unwrap()
	if err != nil {
		return finish(StatusFailed, err)
	}
	out.Chunks = len(res.chunks)
	out.Stats = chunker.Summarize(res.chunks)
	in.chunks.Add(int64(out.Chunks))
	log.Info("ingest: document stored", "chunks", out.Chunks, "pages", out.Stats.Pages, "avg_tokens", out.Stats.AvgTokens)
	return finish(StatusProcessed, nil)
}

// Remove deletes every chunk of the document identified by path.
// It waits for any ingestion of the same document to finish.
func (in *Ingester) Remove(ctx context.Context, path string) (Outcome, error) {
	name := domain.DocumentName(path)
	unlock := in.locks.Lock(name)
	defer unlock()

	out := Outcome{Document: name, Status: StatusRemoved}
	if err := in.deps.Store.DeleteByDocument(ctx, name); err != nil {
		err = domain.WrapDocument(domain.ErrVectorStore, "delete", name, err)
		out.Status, out.Kind, out.Error = StatusFailed, domain.KindOf(err), err.Error()
		in.logger.Error("ingest: remove failed", "document", name, "err", err)
		return out, err
	}
	in.outcomes.With(string(StatusRemoved)).Inc()
	in.logger.Info("ingest: document removed", "document", name)
	return out, nil
}
