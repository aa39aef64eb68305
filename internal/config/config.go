package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quiz-rag/internal/helper"
)

// LLMConfig describes one model endpoint. Provider is openai or ollama.
type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=openai ollama"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model" validate:"required"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=1,lte=4000"`
}

// EmbedConfig describes the embedding endpoint and batching. Dimension must
// equal the length of the vectors Model returns.
type EmbedConfig struct {
	Provider   string        `yaml:"provider" validate:"oneof=openai ollama"`
	BaseURL    string        `yaml:"base_url"`
	Key        string        `yaml:"key"`
	Model      string        `yaml:"model" validate:"required"`
	Dimension  int           `yaml:"dimension" validate:"gte=1"`
	BatchSize  int           `yaml:"batch_size" validate:"gte=1,lte=2048"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	CacheSize  int           `yaml:"cache_size" validate:"gte=0"`
}

// RAGConfig holds chunking, storage and retrieval settings.
type RAGConfig struct {
	ChunkSize      int    `yaml:"chunk_size" validate:"gte=100,lte=4000"`
	ChunkOverlap   int    `yaml:"chunk_overlap" validate:"gte=0,lte=1000,ltfield=ChunkSize"`
	Backend        string `yaml:"backend" validate:"oneof=chromem pgvector"`
	DBPath         string `yaml:"db_path"`
	CollectionName string `yaml:"collection_name" validate:"required"`
	InMemory       bool   `yaml:"in_memory"`
	Compress       bool   `yaml:"compress"`
	EncryptionKey  string `yaml:"encryption_key" validate:"omitempty,len=32"`
	RetrievalK     int    `yaml:"retrieval_k" validate:"gte=1,lte=10"`
	CandidatePool  int    `yaml:"candidate_pool" validate:"gtefield=RetrievalK"`
	HistoryLimit   int    `yaml:"history_limit" validate:"gte=1"`
}

// RerankConfig selects the reranking strategy.
type RerankConfig struct {
	Strategy  string        `yaml:"strategy" validate:"oneof=heuristic model"`
	ScorerURL string        `yaml:"scorer_url" validate:"required_if=Strategy model"`
	Timeout   time.Duration `yaml:"timeout"`
	Language  string        `yaml:"language"`
	StopWords []string      `yaml:"stop_words"`
}

// DatabaseConfig is used by the pgvector backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"omitempty,oneof=pgdriver pq"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
	Debug    bool   `yaml:"debug"`
}

type Config struct {
	LogLevel string             `yaml:"log_level"`
	LLM      LLMConfig          `yaml:"llm"`
	EmbedLLM EmbedConfig        `yaml:"embed_llm"`
	RAG      RAGConfig          `yaml:"rag"`
	Rerank   RerankConfig       `yaml:"rerank"`
	Retry    helper.RetryPolicy `yaml:"retry"`
	Database DatabaseConfig     `yaml:"database"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			MaxTokens:   1000,
		},
		EmbedLLM: EmbedConfig{
			Provider:   "openai",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-ada-002",
			Dimension:  1536,
			BatchSize:  100,
			BatchDelay: 100 * time.Millisecond,
			CacheSize:  512,
		},
		RAG: RAGConfig{
			ChunkSize:      1000,
			ChunkOverlap:   200,
			Backend:        "chromem",
			DBPath:         "./data/vector_db",
			CollectionName: "textbook_embeddings",
			RetrievalK:     3,
			CandidatePool:  10,
			HistoryLimit:   1000,
		},
		Rerank: RerankConfig{
			Strategy: "heuristic",
			Timeout:  30 * time.Second,
			Language: "ko",
		},
		Retry: helper.DefaultRetryPolicy(),
		Database: DatabaseConfig{
			Driver: "pgdriver",
			Table:  "textbook_chunks",
		},
	}
}

// LoadConfig reads path over the defaults, applies .env and environment overrides and validates.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.LLM.Key == "" {
			cfg.LLM.Key = key
		}
		if cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = key
		}
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.LLM.BaseURL = base
		cfg.EmbedLLM.BaseURL = base
	}
	if dsn := os.Getenv("RAG_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	c.LLM.Key = mask(c.LLM.Key)
	c.EmbedLLM.Key = mask(c.EmbedLLM.Key)
	c.Database.Password = mask(c.Database.Password)
	c.RAG.EncryptionKey = mask(c.RAG.EncryptionKey)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "..." + s[len(s)-4:]
}
