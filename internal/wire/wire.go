// Package wire builds the configured components for the regcheck binaries.
package wire

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/WessleyAI/regcheck/engine/chunker"
	"github.com/WessleyAI/regcheck/engine/classify"
	"github.com/WessleyAI/regcheck/engine/embedding"
	"github.com/WessleyAI/regcheck/engine/ingest"
	"github.com/WessleyAI/regcheck/engine/rag"
	"github.com/WessleyAI/regcheck/engine/retrieve"
	"github.com/WessleyAI/regcheck/engine/semantic"
	"github.com/WessleyAI/regcheck/engine/source"
	"github.com/WessleyAI/regcheck/pkg/cache"
	"github.com/WessleyAI/regcheck/pkg/config"
	"github.com/WessleyAI/regcheck/pkg/fn"
	"github.com/WessleyAI/regcheck/pkg/metrics"
	"github.com/WessleyAI/regcheck/pkg/ollama"
	"github.com/WessleyAI/regcheck/pkg/openai"
	"github.com/WessleyAI/regcheck/pkg/resilience"
)

// Logger returns a JSON logger at the configured level.
func Logger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Closer releases a connection opened by this package.
type Closer func()

// Store opens and prepares the configured vector store partition.
func Store(ctx context.Context, cfg *config.Config, logger *slog.Logger) (semantic.Store, Closer, error) {
	dim := cfg.Embedding.Dimension
	base := cfg.VectorStore.Collection
	switch cfg.VectorStore.Backend {
	case "qdrant":
		qs, err := semantic.NewQdrant(cfg.VectorStore.QdrantAddr, base, dim)
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant connect: %w", err)
		}
		if err := qs.EnsureCollection(ctx); err != nil {
			qs.Close()
			return nil, nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		logger.Info("connected to Qdrant", "collection", qs.Collection(), "dims", dim)
		return qs, func() { qs.Close() }, nil
	case "postgres":
		ps, err := semantic.OpenPostgres(cfg.VectorStore.PostgresDSN, base, dim)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := ps.Migrate(ctx); err != nil {
			ps.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		logger.Info("connected to Postgres", "table", ps.Table(), "dims", dim)
		return ps, func() { ps.Close() }, nil
	default:
		logger.Warn("using in-memory vector store; chunks are lost on exit", "dims", dim)
		return semantic.NewMemoryStore(dim), func() {}, nil
	}
}

// Embedder builds the embedding gateway for the configured provider. With
// Redis configured, embeddings are cached.
func Embedder(ctx context.Context, cfg *config.Config, reg *metrics.Registry, logger *slog.Logger) (*embedding.Gateway, Closer, error) {
	var p embedding.Provider
	switch cfg.Embedding.Provider {
	case "openai":
		p = embedding.FromRemote(openai.New(openai.Config{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			EmbeddingModel: cfg.Embedding.Model,
			Dimensions:     cfg.Embedding.Dimension,
		}))
	case "ollama":
		p = embedding.FromRemote(ollama.New(ollama.Config{
			BaseURL:        cfg.Ollama.URL,
			EmbeddingModel: cfg.Embedding.Model,
			TaskPrefixes:   strings.Contains(cfg.Embedding.Model, "nomic"),
		}))
	default:
		p = embedding.NewHashProvider(cfg.Embedding.Dimension)
	}

	closer := func() {}
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis connect: %w", err)
		}
		p = embedding.NewCachedProvider(p, rc, cfg.Redis.TTL, logger)
		closer = func() { rc.Close() }
		logger.Info("embedding cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	opts := embedding.DefaultOptions()
	opts.BatchSize = cfg.Embedding.BatchSize
	opts.Timeout = cfg.Embedding.Timeout
	opts.Dimension = cfg.Embedding.Dimension
	opts.Limiter = resilience.LimiterOpts{Rate: cfg.Embedding.RateLimit, Burst: cfg.Embedding.Burst}
	logger.Info("embedding provider", "provider", cfg.Embedding.Provider, "model", p.Model())
	return embedding.New(p, opts, reg, logger), closer, nil
}

// Generator returns the configured language model client.
func Generator(cfg *config.Config) rag.Generator {
	if cfg.LLM.Provider == "ollama" {
		return ollama.New(ollama.Config{
			BaseURL:   cfg.Ollama.URL,
			ChatModel: cfg.LLM.Model,
			JSONMode:  true,
		})
	}
	return openai.New(openai.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		ChatModel: cfg.LLM.Model,
		JSONMode:  true,
	})
}

// Source opens the document corpus.
func Source(ctx context.Context, cfg *config.Config) (ingest.Source, error) {
	if cfg.Source.Type == "minio" {
		m := cfg.Source.MinIO
		objs, err := source.NewObjects(ctx, source.ObjectConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
			UseSSL:    m.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return objs, nil
	}
	dir, err := source.NewDir(cfg.Source.Dir)
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// Chunker builds the chunker with the configured tokenizer.
func Chunker(cfg *config.Config) (*chunker.Chunker, error) {
	counter, err := chunker.NewCounter(cfg.Chunking.Tokenizer)
	if err != nil {
		return nil, err
	}
	return chunker.New(chunker.Options{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
		Counter:   counter,
	}, classify.New(nil))
}

// Retriever builds the two-pass retriever.
func Retriever(cfg *config.Config, emb *embedding.Gateway, store semantic.Store, logger *slog.Logger) (*retrieve.Retriever, error) {
	return retrieve.New(emb, store, retrieve.Options{
		TargetTypes: cfg.ChunkTypes(),
		MinTargeted: cfg.Retrieval.MinTargeted,
		MaxResults:  cfg.Retrieval.MaxResults,
	}, logger)
}

// Assessor builds the assessment service.
func Assessor(cfg *config.Config, r rag.Retriever, gen rag.Generator, reg *metrics.Registry, logger *slog.Logger) *rag.Service {
	opts := rag.DefaultOptions()
	opts.MaxResults = cfg.Retrieval.MaxResults
	opts.Temperature = cfg.LLM.Temperature
	opts.MaxTokens = cfg.LLM.MaxTokens
	opts.MaxContextChars = cfg.Assessment.MaxContextChars
	opts.ExcerptChars = cfg.Assessment.ExcerptChars
	opts.GenerateTimeout = cfg.LLM.Timeout
	opts.Retry = fn.RetryOpts{MaxAttempts: 2, InitialWait: fn.DefaultRetry.InitialWait, MaxWait: fn.DefaultRetry.MaxWait, Jitter: true}
	return rag.New(r, gen, opts, reg, logger)
}
