package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docchat/internal/config"
	"docchat/internal/models"
)

const defaultBatchSize = 64

// New creates the embedder configured in LLMconfig
func New(LLMconfig *config.LLMConfig) (embeddings.Embedder, error) {
	switch LLMconfig.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(LLMconfig)
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(LLMconfig)
	default:
		return nil, models.Errorf(models.ErrConfig, "unknown embedding provider %q", LLMconfig.Provider)
	}
}

// NewOpenAIEmbedder creates an embedder for any OpenAI compatible endpoint
func NewOpenAIEmbedder(LLMconfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", LLMconfig.BaseURL).Str("embedding_model", LLMconfig.Model).Msg("Creating openai embedder")

	llm, err := openai.New(
		openai.WithBaseURL(LLMconfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(LLMconfig.Key, "Bearer ")),
		openai.WithEmbeddingModel(LLMconfig.Model),
		openai.WithHTTPClient(httpClient(LLMconfig)),
	)
	if err != nil {
		return nil, models.Wrap(models.ErrConfig, "init openai embedder", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(defaultBatchSize))
	if err != nil {
		return nil, models.Wrap(models.ErrConfig, "create embedder", err)
	}
	return embedder, nil
}

// new ollama embedder
func NewOllamaEmbedder(LLMconfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", LLMconfig.BaseURL).Str("embedding_model", LLMconfig.Model).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(LLMconfig.BaseURL),
		ollama.WithModel(LLMconfig.Model),
		ollama.WithHTTPClient(httpClient(LLMconfig)),
	)
	if err != nil {
		return nil, models.Wrap(models.ErrConfig, "init ollama embedder", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(defaultBatchSize))
	if err != nil {
		return nil, models.Wrap(models.ErrConfig, "create embedder", err)
	}
	return embedder, nil
}

func httpClient(LLMconfig *config.LLMConfig) *http.Client {
	timeout := time.Duration(LLMconfig.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &http.Client{Timeout: timeout}
}

// GenerateEmbeddings embeds all chunks in one batch call and checks that the
// embedder returned one non-empty vector per chunk, all of the same length.
func GenerateEmbeddings(ctx context.Context, embedder embeddings.Embedder, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, models.Wrap(models.ErrEmbedding, "embed documents", err)
	}
	if len(vectors) != len(chunks) {
		return nil, models.Errorf(models.ErrEmbedding, "embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, models.Errorf(models.ErrEmbedding, "malformed vector %d: got %d dimensions, want %d", i, len(v), dim)
		}
	}
	return vectors, nil
}

// GenerateQueryEmbedding embeds a single query string
func GenerateQueryEmbedding(ctx context.Context, embedder embeddings.Embedder, query string) ([]float32, error) {
	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, models.Wrap(models.ErrEmbedding, "embed query", err)
	}
	if len(vector) == 0 {
		return nil, models.Errorf(models.ErrEmbedding, "embedder returned an empty query vector")
	}
	return vector, nil
}

// Dimension probes the embedder once and returns the vector length
func Dimension(ctx context.Context, embedder embeddings.Embedder) (int, error) {
	v, err := GenerateQueryEmbedding(ctx, embedder, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("failed to probe embedding dimension: %w", err)
	}
	return len(v), nil
}
