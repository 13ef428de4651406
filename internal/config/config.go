package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"grounded-rag/internal/models"
)

const DefaultPath = "./configs/config.yaml"

type Config struct {
	Server       ServerConfig   `yaml:"server"`
	Log          LogConfig      `yaml:"log"`
	Storage      StorageConfig  `yaml:"storage"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Reranker     RerankerConfig `yaml:"reranker"`
	VectorDB     VectorDBConfig `yaml:"vector_db"`
	Database     DatabaseConfig `yaml:"database"`
	RAG          RAGConfig      `yaml:"rag"`
}

type ServerConfig struct {
	Addr               string `yaml:"addr"`
	MaxUploadMB        int    `yaml:"max_upload_mb"`
	ReadTimeoutSeconds int    `yaml:"read_timeout_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	MediaRoot    string `yaml:"media_root"`
	DocumentsDir string `yaml:"documents_dir"`
}

// LLMConfig describes a langchaingo-backed model endpoint
type LLMConfig struct {
	Provider          string  `yaml:"provider"`
	BaseURL           string  `yaml:"base_url"`
	Key               string  `yaml:"key"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type RerankerConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	Key            string `yaml:"key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c RerankerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type VectorDBConfig struct {
	Provider       string `yaml:"provider"`
	Dimension      int    `yaml:"dimension"`
	Path           string `yaml:"path"`
	Collection     string `yaml:"collection"`
	InMemory       bool   `yaml:"in_memory"`
	Compress       bool   `yaml:"compress"`
	EncryptionKey  string `yaml:"encryption_key"`
	QdrantURL      string `yaml:"qdrant_url"`
	QdrantKey      string `yaml:"qdrant_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c VectorDBConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type RAGConfig struct {
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	RawK           int    `yaml:"raw_k"`
	FinalN         int    `yaml:"final_n"`
	RerankFallback string `yaml:"rerank_fallback"`
}

const (
	FallbackRaw   = "raw"
	FallbackEmpty = "empty"
)

// LoadConfig reads the YAML file at path, applies defaults and environment
// overrides. A missing file is not an error: defaults are returned.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	mergeWithEnv(&cfg)
	applyDefaults(&cfg)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, joinFieldErrors(errs)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if cfg.Storage.MediaRoot == "" {
		cfg.Storage.MediaRoot = "./media"
	}
	if cfg.Storage.DocumentsDir == "" {
		cfg.Storage.DocumentsDir = "documents"
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "ollama"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = defaultEmbeddingModel(cfg.EmbedLLM.Provider)
	}
	if cfg.EmbedLLM.BaseURL == "" && cfg.EmbedLLM.Provider == "ollama" {
		cfg.EmbedLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedLLM.TimeoutSeconds == 0 {
		cfg.EmbedLLM.TimeoutSeconds = 30
	}

	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = "ollama"
	}
	if cfg.InferenceLLM.Model == "" {
		cfg.InferenceLLM.Model = defaultInferenceModel(cfg.InferenceLLM.Provider)
	}
	if cfg.InferenceLLM.BaseURL == "" && cfg.InferenceLLM.Provider == "ollama" {
		cfg.InferenceLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.InferenceLLM.TimeoutSeconds == 0 {
		cfg.InferenceLLM.TimeoutSeconds = 120
	}

	if cfg.Reranker.Provider == "" {
		cfg.Reranker.Provider = "cohere"
	}
	if cfg.Reranker.BaseURL == "" {
		cfg.Reranker.BaseURL = "https://api.cohere.com"
	}
	if cfg.Reranker.Model == "" {
		cfg.Reranker.Model = "rerank-english-v3.0"
	}
	if cfg.Reranker.TimeoutSeconds == 0 {
		cfg.Reranker.TimeoutSeconds = 30
	}

	if cfg.VectorDB.Provider == "" {
		cfg.VectorDB.Provider = "chromem"
	}
	if cfg.VectorDB.Dimension == 0 {
		cfg.VectorDB.Dimension = models.DefaultDimension
	}
	if cfg.VectorDB.Path == "" {
		cfg.VectorDB.Path = "./chromemdb"
	}
	if cfg.VectorDB.Collection == "" {
		cfg.VectorDB.Collection = "documents"
	}
	if cfg.VectorDB.QdrantURL == "" {
		cfg.VectorDB.QdrantURL = "http://localhost:6334"
	}
	if cfg.VectorDB.TimeoutSeconds == 0 {
		cfg.VectorDB.TimeoutSeconds = 60
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = models.DefaultChunkSize
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = models.DefaultChunkOverlap
	}
	if cfg.RAG.RawK == 0 {
		cfg.RAG.RawK = models.DefaultRawK
	}
	if cfg.RAG.FinalN == 0 {
		cfg.RAG.FinalN = models.DefaultFinalN
	}
	if cfg.RAG.RerankFallback == "" {
		cfg.RAG.RerankFallback = FallbackRaw
	}
}

func defaultEmbeddingModel(provider string) string {
	switch provider {
	case "googleai":
		return "embedding-001"
	case "openai":
		return "text-embedding-3-small"
	default:
		return "nomic-embed-text"
	}
}

func defaultInferenceModel(provider string) string {
	switch provider {
	case "googleai":
		return "gemini-2.0-flash"
	case "openai":
		return "gpt-4o-mini"
	default:
		return "llama3.1"
	}
}

// mergeWithEnv lets secrets and endpoints come from the environment (or .env)
// instead of the config file.
func mergeWithEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		if cfg.EmbedLLM.Provider == "" || cfg.EmbedLLM.Provider == "ollama" {
			cfg.EmbedLLM.BaseURL = v
		}
		if cfg.InferenceLLM.Provider == "" || cfg.InferenceLLM.Provider == "ollama" {
			cfg.InferenceLLM.BaseURL = v
		}
	}
	for _, llm := range []*LLMConfig{&cfg.EmbedLLM, &cfg.InferenceLLM} {
		if llm.Key != "" {
			continue
		}
		switch llm.Provider {
		case "googleai":
			llm.Key = os.Getenv("GOOGLE_API_KEY")
		case "openai":
			llm.Key = os.Getenv("OPENAI_API_KEY")
		}
	}
	if v := os.Getenv("COHERE_API_KEY"); v != "" {
		cfg.Reranker.Key = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.VectorDB.QdrantURL = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.VectorDB.QdrantKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("RAG_MEDIA_ROOT"); v != "" {
		cfg.Storage.MediaRoot = v
	}
}

type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate returns every problem found in the configuration.
func (c *Config) Validate() []FieldError {
	var errs []FieldError

	for name, llm := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "inference_llm": c.InferenceLLM} {
		if !oneOf(llm.Provider, "ollama", "openai", "googleai") {
			errs = append(errs, FieldError{name + ".provider", fmt.Sprintf("unknown provider %q", llm.Provider)})
		}
		if llm.TimeoutSeconds < 0 {
			errs = append(errs, FieldError{name + ".timeout_seconds", "timeout must not be negative"})
		}
	}
	if c.EmbedLLM.RequestsPerSecond < 0 {
		errs = append(errs, FieldError{"embed_llm.requests_per_second", "requests_per_second must not be negative"})
	}
	if c.InferenceLLM.Temperature < 0 || c.InferenceLLM.Temperature > 2 {
		errs = append(errs, FieldError{"inference_llm.temperature", "temperature must be between 0 and 2"})
	}

	if !oneOf(c.Reranker.Provider, "cohere", "none") {
		errs = append(errs, FieldError{"reranker.provider", fmt.Sprintf("unknown provider %q", c.Reranker.Provider)})
	}

	if !oneOf(c.VectorDB.Provider, "chromem", "pgvector", "qdrant") {
		errs = append(errs, FieldError{"vector_db.provider", fmt.Sprintf("unknown provider %q", c.VectorDB.Provider)})
	}
	if c.VectorDB.Dimension < 1 {
		errs = append(errs, FieldError{"vector_db.dimension", "dimension must be positive"})
	}
	if c.VectorDB.EncryptionKey != "" && len(c.VectorDB.EncryptionKey) != 32 {
		errs = append(errs, FieldError{"vector_db.encryption_key", "encryption key must be 32 bytes"})
	}
	if c.VectorDB.Provider == "pgvector" && c.Database.URL == "" {
		errs = append(errs, FieldError{"database.url", "database url is required for the pgvector index"})
	}
	if !oneOf(c.Database.Driver, "pgdriver", "pq", "pgx") {
		errs = append(errs, FieldError{"database.driver", fmt.Sprintf("unknown driver %q", c.Database.Driver)})
	}

	if c.RAG.ChunkSize < 1 {
		errs = append(errs, FieldError{"rag.chunk_size", "chunk_size must be positive"})
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, FieldError{"rag.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size"})
	}
	if c.RAG.RawK < 1 {
		errs = append(errs, FieldError{"rag.raw_k", "raw_k must be positive"})
	}
	if c.RAG.FinalN < 1 {
		errs = append(errs, FieldError{"rag.final_n", "final_n must be positive"})
	}
	if !oneOf(c.RAG.RerankFallback, FallbackRaw, FallbackEmpty) {
		errs = append(errs, FieldError{"rag.rerank_fallback", fmt.Sprintf("must be %q or %q", FallbackRaw, FallbackEmpty)})
	}

	if c.Server.MaxUploadMB < 1 {
		errs = append(errs, FieldError{"server.max_upload_mb", "max_upload_mb must be positive"})
	}

	return errs
}

func joinFieldErrors(errs []FieldError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return models.ConfigurationError("invalid config: %s", strings.Join(msgs, "; "))
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
