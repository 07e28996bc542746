// Package config loads the YAML configuration shared by the regcheck
// binaries and applies defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// SourceConfig locates the document corpus.
type SourceConfig struct {
	Type  string      `yaml:"type"` // dir | minio
	Dir   string      `yaml:"dir"`
	MinIO MinIOConfig `yaml:"minio"`
}

// MinIOConfig is an S3-compatible bucket.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ChunkingConfig sizes chunks in tokens.
type ChunkingConfig struct {
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"chunk_overlap"`
	Tokenizer string `yaml:"tokenizer"` // heuristic or a tiktoken encoding
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // local | openai | ollama
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // calls per second, 0 = unlimited
	Burst     int           `yaml:"burst"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // openai | ollama
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// OpenAIConfig holds the OpenAI credentials.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig points at an Ollama server.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Backend     string `yaml:"backend"` // memory | qdrant | postgres
	Collection  string `yaml:"collection"`
	QdrantAddr  string `yaml:"qdrant_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RetrievalConfig tunes the two-pass search.
type RetrievalConfig struct {
	MaxResults  int      `yaml:"max_results"`
	MinTargeted int      `yaml:"min_targeted"`
	TargetTypes []string `yaml:"target_types"`
}

// AssessmentConfig bounds the prompt and citations.
type AssessmentConfig struct {
	MaxContextChars int `yaml:"max_context_chars"`
	ExcerptChars    int `yaml:"excerpt_chars"`
}

// IngestConfig tunes batch ingestion.
type IngestConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig enables the query embedding cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// NATSConfig is the messaging endpoint of the binaries.
type NATSConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// Config is the root configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	MetricsPort int               `yaml:"metrics_port"`
	Source      SourceConfig      `yaml:"source"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Assessment  AssessmentConfig  `yaml:"assessment"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
}

// Load reads path (skipped when empty or missing), applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(c *Config) {
	setStr(&c.LogLevel, "info")
	setInt(&c.MetricsPort, 9090)

	setStr(&c.Source.Type, "dir")
	setStr(&c.Source.Dir, "./documents")

	if c.Chunking.ChunkSize == 0 {
		c.Chunking.ChunkSize = 1000
		setInt(&c.Chunking.Overlap, 200)
	}
	setStr(&c.Chunking.Tokenizer, "heuristic")

	setStr(&c.Embedding.Provider, "local")
	setInt(&c.Embedding.BatchSize, 64)
	setDur(&c.Embedding.Timeout, 30*time.Second)
	switch c.Embedding.Provider {
	case "local":
		setInt(&c.Embedding.Dimension, 384)
	case "openai":
		setStr(&c.Embedding.Model, "text-embedding-3-small")
		setInt(&c.Embedding.Dimension, 1536)
	case "ollama":
		setStr(&c.Embedding.Model, "nomic-embed-text")
		setInt(&c.Embedding.Dimension, 768)
	}

	setStr(&c.LLM.Provider, "openai")
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	setInt(&c.LLM.MaxTokens, 1500)
	setDur(&c.LLM.Timeout, 60*time.Second)

	setStr(&c.Ollama.URL, "http://localhost:11434")

	setStr(&c.VectorStore.Backend, "memory")
	setStr(&c.VectorStore.Collection, "regulatory_chunks")
	setStr(&c.VectorStore.QdrantAddr, "localhost:6334")

	setInt(&c.Retrieval.MaxResults, 10)
	setInt(&c.Retrieval.MinTargeted, 5)
	if len(c.Retrieval.TargetTypes) == 0 {
		c.Retrieval.TargetTypes = []string{
			string(domain.ChunkRegulatoryRule), string(domain.ChunkRequirement),
			string(domain.ChunkProcedure), string(domain.ChunkSchedule),
		}
	}

	setInt(&c.Assessment.MaxContextChars, 8000)
	setInt(&c.Assessment.ExcerptChars, 500)

	setInt(&c.Ingest.Workers, 4)
	setDur(&c.Ingest.Timeout, 10*time.Minute)

	setDur(&c.Redis.TTL, 24*time.Hour)

	setStr(&c.NATS.Queue, "regcheck")
}

// applyEnv overlays REGCHECK_* variables and the provider credentials. It
// runs before applyDefaults so derived defaults follow the overridden values.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, domain.NewValidationError(key, v, domain.ErrInvalidConfig))
				return
			}
			*dst = n
		}
	}

	str("REGCHECK_LOG_LEVEL", &c.LogLevel)
	num("REGCHECK_METRICS_PORT", &c.MetricsPort)
	str("REGCHECK_SOURCE_DIR", &c.Source.Dir)
	str("REGCHECK_SOURCE_TYPE", &c.Source.Type)
	str("MINIO_ENDPOINT", &c.Source.MinIO.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Source.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &c.Source.MinIO.SecretKey)
	str("MINIO_BUCKET", &c.Source.MinIO.Bucket)
	if v, ok := lookup("MINIO_USE_SSL"); ok && v != "" {
		c.Source.MinIO.UseSSL = strings.EqualFold(v, "true")
	}
	num("REGCHECK_CHUNK_SIZE", &c.Chunking.ChunkSize)
	num("REGCHECK_CHUNK_OVERLAP", &c.Chunking.Overlap)
	str("REGCHECK_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("REGCHECK_EMBEDDING_MODEL", &c.Embedding.Model)
	num("REGCHECK_EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	str("REGCHECK_LLM_PROVIDER", &c.LLM.Provider)
	str("REGCHECK_LLM_MODEL", &c.LLM.Model)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("OLLAMA_URL", &c.Ollama.URL)
	str("REGCHECK_VECTOR_BACKEND", &c.VectorStore.Backend)
	str("QDRANT_URL", &c.VectorStore.QdrantAddr)
	str("POSTGRES_DSN", &c.VectorStore.PostgresDSN)
	num("REGCHECK_MAX_RESULTS", &c.Retrieval.MaxResults)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("NATS_URL", &c.NATS.URL)
	return errors.Join(errs...)
}

// Validate checks sizing, provider and backend names.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field string, value any) {
		errs = append(errs, domain.NewValidationError(field, fmt.Sprint(value), domain.ErrInvalidConfig))
	}
	oneOf := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		bad(field, v)
	}

	oneOf("log_level", strings.ToLower(c.LogLevel), "debug", "info", "warn", "error")
	oneOf("source.type", c.Source.Type, "dir", "minio")
	if c.Source.Type == "minio" && (c.Source.MinIO.Endpoint == "" || c.Source.MinIO.Bucket == "") {
		bad("source.minio", c.Source.MinIO.Endpoint+"/"+c.Source.MinIO.Bucket)
	}
	if c.Chunking.ChunkSize <= 0 {
		bad("chunking.chunk_size", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		bad("chunking.chunk_overlap", c.Chunking.Overlap)
	}
	oneOf("embedding.provider", c.Embedding.Provider, "local", "openai", "ollama")
	if c.Embedding.BatchSize <= 0 {
		bad("embedding.batch_size", c.Embedding.BatchSize)
	}
	if c.Embedding.Dimension < 0 || (c.Embedding.Provider == "local" && c.Embedding.Dimension == 0) {
		bad("embedding.dimension", c.Embedding.Dimension)
	}
	if c.VectorStore.Backend != "memory" && c.Embedding.Dimension == 0 {
		// Remote partitions are created up front and need their dimension.
		bad("embedding.dimension", c.Embedding.Dimension)
	}
	oneOf("llm.provider", c.LLM.Provider, "openai", "ollama")
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		bad("llm.temperature", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		bad("llm.max_tokens", c.LLM.MaxTokens)
	}
	if (c.Embedding.Provider == "openai" || c.LLM.Provider == "openai") && c.OpenAI.APIKey == "" && c.OpenAI.BaseURL == "" {
		bad("openai.api_key", "")
	}
	oneOf("vector_store.backend", c.VectorStore.Backend, "memory", "qdrant", "postgres")
	if c.VectorStore.Backend == "postgres" && c.VectorStore.PostgresDSN == "" {
		bad("vector_store.postgres_dsn", "")
	}
	if c.Retrieval.MaxResults < 1 {
		bad("retrieval.max_results", c.Retrieval.MaxResults)
	}
	if c.Retrieval.MinTargeted < 0 {
		bad("retrieval.min_targeted", c.Retrieval.MinTargeted)
	}
	for _, t := range c.Retrieval.TargetTypes {
		if _, err := domain.ParseChunkType(t); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Ingest.Workers < 1 {
		bad("ingest.workers", c.Ingest.Workers)
	}
	return errors.Join(errs...)
}

// ChunkTypes returns the parsed retrieval target types.
func (c *Config) ChunkTypes() []domain.ChunkType {
	out := make([]domain.ChunkType, 0, len(c.Retrieval.TargetTypes))
	for _, t := range c.Retrieval.TargetTypes {
		out = append(out, domain.ChunkType(t))
	}
	return out
}

func setStr(p *string, def string) {
	if *p == "" {
		*p = def
	}
}

func setInt(p *int, def int) {
	if *p == 0 {
		*p = def
	}
}

func setDur(p *time.Duration, def time.Duration) {
	if *p == 0 {
		*p = def
	}
}
