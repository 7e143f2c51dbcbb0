package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docchat/internal/models"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StoreChromem  = "chromem"
	StorePGVector = "pgvector"

	DriverPGDriver = "pgdriver"
	DriverPQ       = "pq"
	DriverPGX      = "pgx"
)

type Config struct {
	Server       ServerConfig   `yaml:"server"`
	Log          LogConfig      `yaml:"log"`
	RAG          RAGConfig      `yaml:"rag"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Database     DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxUploadMB     int64    `yaml:"max_upload_mb"`
	ReadTimeoutSecs int      `yaml:"read_timeout_secs"`

	// writes include the generation call, keep above inference_llm.timeout_secs
	WriteTimeoutSecs    int `yaml:"write_timeout_secs"`
	ShutdownTimeoutSecs int `yaml:"shutdown_timeout_secs"`

	// requests per second across upload and chat, 0 disables the limit
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
	VectorStore  string `yaml:"vector_store"`
	VectorSize   int    `yaml:"vector_size"`

	// LRU size for query embeddings, 0 disables caching
	QueryCacheSize int `yaml:"query_cache_size"`

	// chromem-go settings
	DBPath        string `yaml:"db_path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	SnapshotPath  string `yaml:"snapshot_path"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                ":8000",
			AllowedOrigins:      []string{"http://localhost:3000"},
			MaxUploadMB:         50,
			ReadTimeoutSecs:     60,
			WriteTimeoutSecs:    240,
			ShutdownTimeoutSecs: 15,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		RAG: RAGConfig{
			ChunkSize:    models.DefaultChunkSize,
			ChunkOverlap: models.DefaultChunkOverlap,
			TopK:         models.DefaultTopK,
			VectorStore:  StoreChromem,
			VectorSize:   768,
			DBPath:       "./chromemdb",

			QueryCacheSize: 256,
		},
		EmbedLLM: LLMConfig{
			Provider:    ProviderOllama,
			BaseURL:     "http://localhost:11434",
			Model:       "nomic-embed-text",
			TimeoutSecs: 60,
		},
		InferenceLLM: LLMConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-4o-mini",
			Temperature: 0.2,
			TimeoutSecs: 180,
		},
		Database: DatabaseConfig{Driver: DriverPGDriver},
	}
}

// LoadConfig reads .env (if any), the YAML file at path on top of the
// defaults and then the environment overrides. A missing file is not an
// error. The result is validated.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, models.Wrap(models.ErrConfig, "parse "+path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, models.Wrap(models.ErrConfig, "read "+path, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// environment names kept compatible with the previous deployment
func applyEnv(cfg *Config) {
	setString(&cfg.InferenceLLM.BaseURL, "OPENROUTER_URL")
	// the previous deployment set the full completions endpoint
	cfg.InferenceLLM.BaseURL = strings.TrimSuffix(strings.TrimSuffix(cfg.InferenceLLM.BaseURL, "/"), "/chat/completions")
	setString(&cfg.InferenceLLM.Key, "OPENROUTER_API_KEY")
	setString(&cfg.InferenceLLM.Model, "OPENROUTER_MODEL")
	setString(&cfg.EmbedLLM.BaseURL, "OLLAMA_URL")
	setString(&cfg.EmbedLLM.Model, "EMBEDDING_MODEL")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.RAG.EncryptionKey, "CHROMEM_ENCRYPTION_KEY")
	setString(&cfg.Server.Addr, "DOCCHAT_ADDR")
	setString(&cfg.Log.Level, "DOCCHAT_LOG_LEVEL")
	if v := os.Getenv("DOCCHAT_VECTOR_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RAG.VectorSize = n
		}
	}
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

// Validate reports the first invalid setting as models.ErrConfig.
func (c *Config) Validate() error {
	switch {
	case c.RAG.ChunkSize <= 0:
		return models.Errorf(models.ErrConfig, "rag.chunk_size must be positive")
	case c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize:
		return models.Errorf(models.ErrConfig, "rag.chunk_overlap %d must be in [0, %d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	case c.RAG.TopK <= 0:
		return models.Errorf(models.ErrConfig, "rag.top_k must be positive")
	case c.RAG.VectorSize <= 0:
		return models.Errorf(models.ErrConfig, "rag.vector_size must be positive")
	case c.RAG.QueryCacheSize < 0:
		return models.Errorf(models.ErrConfig, "rag.query_cache_size must not be negative")
	case c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0:
		return models.Errorf(models.ErrConfig, "server rate limit must not be negative")
	}

	switch c.RAG.VectorStore {
	case StoreChromem:
		if !c.RAG.InMemory && c.RAG.DBPath == "" {
			return models.Errorf(models.ErrConfig, "rag.db_path is required for a persistent chromem store")
		}
		if k := c.RAG.EncryptionKey; k != "" && len(k) != 32 {
			return models.Errorf(models.ErrConfig, "rag.encryption_key must be 32 bytes, got %d", len(k))
		}
	case StorePGVector:
		if c.Database.DSN == "" {
			return models.Errorf(models.ErrConfig, "database.dsn is required for the pgvector store")
		}
		if c.Database.Driver != DriverPGDriver && c.Database.Driver != DriverPQ && c.Database.Driver != DriverPGX {
			return models.Errorf(models.ErrConfig, "unknown database.driver %q", c.Database.Driver)
		}
	default:
		return models.Errorf(models.ErrConfig, "unknown rag.vector_store %q", c.RAG.VectorStore)
	}

	if err := c.EmbedLLM.validate("embed_llm"); err != nil {
		return err
	}
	if err := c.InferenceLLM.validate("inference_llm"); err != nil {
		return err
	}
	if c.InferenceLLM.TimeoutSecs <= 0 {
		return models.Errorf(models.ErrConfig, "inference_llm.timeout_secs must be positive")
	}
	return nil
}

func (l LLMConfig) validate(section string) error {
	if l.Provider != ProviderOllama && l.Provider != ProviderOpenAI {
		return models.Errorf(models.ErrConfig, "unknown %s.provider %q", section, l.Provider)
	}
	if l.Model == "" {
		return models.Errorf(models.ErrConfig, "%s.model is required", section)
	}
	if l.BaseURL == "" {
		return models.Errorf(models.ErrConfig, "%s.base_url is required", section)
	}
	return nil
}

// Redacted returns a copy safe for logging.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.EmbedLLM.Key = mask(c.EmbedLLM.Key)
	c.InferenceLLM.Key = mask(c.InferenceLLM.Key)
	c.RAG.EncryptionKey = mask(c.RAG.EncryptionKey)
	c.Database.DSN = mask(c.Database.DSN)
	return c
}
