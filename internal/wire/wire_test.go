package wire

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/regcheck/engine/semantic"
	"github.com/WessleyAI/regcheck/engine/source"
	"github.com/WessleyAI/regcheck/pkg/config"
	"github.com/WessleyAI/regcheck/pkg/metrics"
	"github.com/WessleyAI/regcheck/pkg/ollama"
	"github.com/WessleyAI/regcheck/pkg/openai"
)

func TestLoggerLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "warn"
	l := Logger(cfg)
	if l.Enabled(context.Background(), slog.LevelInfo) || !l.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn level not applied")
	}
}

func TestDefaultComponents(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Source.Dir = t.TempDir()
	logger := slog.Default()

	st, closeStore, err := Store(ctx, cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore()
	if _, ok := st.(*semantic.MemoryStore); !ok || st.Dimension() != 384 {
		t.Fatalf("store = %T dim %d", st, st.Dimension())
	}

	gw, closeEmb, err := Embedder(ctx, cfg, metrics.New(), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer closeEmb()
	if gw.Model() != "local-trigram-384" {
		t.Errorf("model = %s", gw.Model())
	}
	v, err := gw.EmbedQuery(ctx, "Do we need encryption?")
	if err != nil || len(v) != 384 {
		t.Fatalf("embed: %d %v", len(v), err)
	}

	src, err := Source(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(*source.Dir); !ok {
		t.Errorf("source = %T", src)
	}

	ck, err := Chunker(cfg)
	if err != nil || ck == nil {
		t.Fatalf("chunker: %v", err)
	}
	r, err := Retriever(cfg, gw, st, logger)
	if err != nil {
		t.Fatal(err)
	}
	if r.Options().MinTargeted != 5 {
		t.Errorf("retriever options = %+v", r.Options())
	}
	if Assessor(cfg, r, Generator(cfg), nil, logger) == nil {
		t.Error("nil assessor")
	}
}

func TestGeneratorProvider(t *testing.T) {
	cfg := config.Default()
	if _, ok := Generator(cfg).(*openai.Client); !ok {
		t.Error("default generator should be openai")
	}
	cfg.LLM.Provider = "ollama"
	if _, ok := Generator(cfg).(*ollama.Client); !ok {
		t.Error("expected ollama generator")
	}
}

func TestRemoteEmbedderModels(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Model = "nomic-embed-text"
	gw, closer, err := Embedder(context.Background(), cfg, nil, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	if gw.Model() != "nomic-embed-text" {
		t.Errorf("model = %s", gw.Model())
	}
}

func TestSourceMissingDir(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Dir = filepath.Join(t.TempDir(), "missing")
	if _, err := Source(context.Background(), cfg); err == nil {
		t.Error("expected error")
	}
}
