package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/regcheck/engine/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "regcheck.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Chunking.ChunkSize != 1000 || cfg.Chunking.Overlap != 200 || cfg.Chunking.Tokenizer != "heuristic" {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.Embedding.BatchSize != 64 || cfg.Embedding.Timeout != 30*time.Second || cfg.Embedding.Dimension != 384 {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.LLM.Temperature != 0.1 || cfg.LLM.MaxTokens != 1500 || cfg.LLM.Timeout != time.Minute {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Retrieval.MaxResults != 10 || cfg.Retrieval.MinTargeted != 5 || len(cfg.Retrieval.TargetTypes) != 4 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Assessment.MaxContextChars != 8000 || cfg.Assessment.ExcerptChars != 500 || cfg.Ingest.Workers != 4 {
		t.Errorf("assessment=%+v ingest=%+v", cfg.Assessment, cfg.Ingest)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	p := writeConfig(t, `
log_level: debug
chunking:
  chunk_size: 500
  chunk_overlap: 50
embedding:
  provider: openai
  timeout: 10s
llm:
  provider: openai
  model: gpt-4o
vector_store:
  backend: qdrant
retrieval:
  target_types: [definition, requirement]
redis:
  addr: localhost:6379
  ttl: 1h
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.Chunking.ChunkSize != 500 || cfg.Chunking.Overlap != 50 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Embedding.Dimension != 1536 || cfg.Embedding.Model != "text-embedding-3-small" || cfg.Embedding.Timeout != 10*time.Second {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.OpenAI.APIKey != "sk-test" || cfg.Redis.TTL != time.Hour {
		t.Errorf("openai=%+v redis=%+v", cfg.OpenAI, cfg.Redis)
	}
	types := cfg.ChunkTypes()
	if len(types) != 2 || types[0] != domain.ChunkDefinition {
		t.Errorf("types = %v", types)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.VectorStore.Backend != "memory" || cfg.Embedding.Provider != "local" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "chunking: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REGCHECK_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("REGCHECK_CHUNK_SIZE", "800")
	t.Setenv("QDRANT_URL", "qdrant:6334")
	t.Setenv("NATS_URL", "nats://nats:4222")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Dimension != 768 || cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Chunking.ChunkSize != 800 || cfg.Chunking.Overlap != 0 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.VectorStore.QdrantAddr != "qdrant:6334" || cfg.NATS.URL != "nats://nats:4222" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnvBadNumber(t *testing.T) {
	t.Setenv("REGCHECK_CHUNK_SIZE", "big")
	_, err := Load("")
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = c.Chunking.ChunkSize }, "chunk_overlap"},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, "chunk_overlap"},
		{"zero batch", func(c *Config) { c.Embedding.BatchSize = 0 }, "batch_size"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "embedding.provider"},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "faiss" }, "vector_store.backend"},
		{"postgres without dsn", func(c *Config) { c.VectorStore.Backend = "postgres" }, "postgres_dsn"},
		{"zero results", func(c *Config) { c.Retrieval.MaxResults = 0 }, "max_results"},
		{"negative min targeted", func(c *Config) { c.Retrieval.MinTargeted = -1 }, "min_targeted"},
		{"unknown chunk type", func(c *Config) { c.Retrieval.TargetTypes = []string{"appendix"} }, "chunk_type"},
		{"minio without bucket", func(c *Config) { c.Source.Type = "minio" }, "source.minio"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.OpenAI.APIKey = "sk"
			tc.edit(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("err = %v, want mention of %s", err, tc.field)
			}
		})
	}

	cfg := Default()
	cfg.OpenAI.APIKey = "sk"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.OpenAI.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("openai provider without key should fail")
	}
}
