package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "RAG_DATABASE_DSN", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: ollama
  model: llama3
  temperature: 0.2
  max_tokens: 800
embed_llm:
  model: nomic-embed-text
  dimension: 768
  batch_delay: 250ms
rag:
  chunk_size: 500
  chunk_overlap: 50
  backend: pgvector
  retrieval_k: 5
  candidate_pool: 20
retry:
  max_attempts: 5
  base_delay: 1s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 800, cfg.LLM.MaxTokens)
	assert.Equal(t, 768, cfg.EmbedLLM.Dimension)
	assert.Equal(t, 250*time.Millisecond, cfg.EmbedLLM.BatchDelay)
	assert.Equal(t, 100, cfg.EmbedLLM.BatchSize)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, "pgvector", cfg.RAG.Backend)
	assert.Equal(t, "textbook_embeddings", cfg.RAG.CollectionName)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"overlap not below size": "rag:\n  chunk_size: 200\n  chunk_overlap: 200\n",
		"unknown backend":        "rag:\n  backend: redis\n",
		"pool below k":           "rag:\n  retrieval_k: 5\n  candidate_pool: 2\n",
		"short encryption key":   "rag:\n  encryption_key: abc\n",
		"model reranker no url":  "rerank:\n  strategy: model\n",
		"temperature too high":   "llm:\n  temperature: 3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(writeConfig(t, "rag: [unclosed"))
	assert.Error(t, err)
}

func TestLoadConfigEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-1234")
	t.Setenv("RAG_DATABASE_DSN", "postgres://localhost/rag")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig(writeConfig(t, "llm:\n  key: sk-file-key\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-file-key", cfg.LLM.Key)
	assert.Equal(t, "sk-test-1234", cfg.EmbedLLM.Key)
	assert.Equal(t, "postgres://localhost/rag", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.LLM.Key = "sk-secret-abcd"
	cfg.Database.Password = "pw"

	r := cfg.Redacted()
	assert.Equal(t, "...abcd", r.LLM.Key)
	assert.Equal(t, "****", r.Database.Password)
	assert.Equal(t, "", r.EmbedLLM.Key)
	assert.Equal(t, "sk-secret-abcd", cfg.LLM.Key)
}
