package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docchat/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RAG.ChunkSize != 800 || cfg.RAG.ChunkOverlap != 200 || cfg.RAG.TopK != 10 {
		t.Fatalf("unexpected rag defaults: %+v", cfg.RAG)
	}
	if cfg.InferenceLLM.TimeoutSecs != 180 {
		t.Fatalf("timeout = %d, want 180", cfg.InferenceLLM.TimeoutSecs)
	}
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
rag:
  top_k: 4
  vector_size: 384
inference_llm:
  model: from-file
`)
	t.Setenv("OPENROUTER_MODEL", "from-env")
	t.Setenv("OPENROUTER_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RAG.TopK != 4 || cfg.RAG.VectorSize != 384 {
		t.Errorf("file values not applied: %+v", cfg.RAG)
	}
	if cfg.RAG.ChunkSize != 800 {
		t.Errorf("defaults lost: chunk_size = %d", cfg.RAG.ChunkSize)
	}
	if cfg.InferenceLLM.Model != "from-env" {
		t.Errorf("model = %q, want from-env", cfg.InferenceLLM.Model)
	}
	if got := cfg.Redacted().InferenceLLM.Key; got != "***" {
		t.Errorf("redacted key = %q", got)
	}
	if cfg.InferenceLLM.Key != "secret" {
		t.Errorf("Redacted must not modify the original")
	}
}

func TestLoadConfig_OpenRouterURLAcceptsEndpoint(t *testing.T) {
	for _, url := range []string{
		"https://openrouter.ai/api/v1/chat/completions",
		"https://openrouter.ai/api/v1/chat/completions/",
		"https://openrouter.ai/api/v1/",
		"https://openrouter.ai/api/v1",
	} {
		t.Setenv("OPENROUTER_URL", url)
		cfg, err := LoadConfig(writeConfig(t, "log:\n  level: info\n"))
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if got := cfg.InferenceLLM.BaseURL; got != "https://openrouter.ai/api/v1" {
			t.Errorf("OPENROUTER_URL=%s: base url = %q", url, got)
		}
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "rag: [unclosed")
	if _, err := LoadConfig(path); !errors.Is(err, models.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap not smaller than size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }},
		{"zero vector size", func(c *Config) { c.RAG.VectorSize = 0 }},
		{"negative query cache", func(c *Config) { c.RAG.QueryCacheSize = -1 }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitRPS = -1 }},
		{"unknown store", func(c *Config) { c.RAG.VectorStore = "faiss" }},
		{"pgvector without dsn", func(c *Config) { c.RAG.VectorStore = StorePGVector }},
		{"short encryption key", func(c *Config) { c.RAG.EncryptionKey = "short" }},
		{"unknown provider", func(c *Config) { c.EmbedLLM.Provider = "bedrock" }},
		{"missing inference model", func(c *Config) { c.InferenceLLM.Model = "" }},
		{"bad driver", func(c *Config) {
			c.RAG.VectorStore = StorePGVector
			c.Database.DSN = "postgres://localhost/db"
			c.Database.Driver = "mysql"
		}},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}
	pgx := Default()
	pgx.RAG.VectorStore = StorePGVector
	pgx.Database.DSN = "postgres://localhost/db"
	pgx.Database.Driver = DriverPGX
	if err := pgx.Validate(); err != nil {
		t.Fatalf("pgx driver must be accepted: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, models.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}
