package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docchat/internal/config"
	"docchat/internal/models"
)

// Client sends one grounded prompt to the chat model and returns its reply.
// There is no streaming and no retry.
type Client struct {
	llm         llms.Model
	model       string
	temperature float64
	timeout     time.Duration
}

// New creates the chat model configured in llmConfig
func New(llmConfig *config.LLMConfig) (*Client, error) {
	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		llm, err = openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
	case config.ProviderOllama:
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	default:
		return nil, models.Errorf(models.ErrConfig, "unknown inference provider %q", llmConfig.Provider)
	}
	if err != nil {
		return nil, models.Wrap(models.ErrConfig, "init "+llmConfig.Provider+" llm", err)
	}

	c := NewClient(llm, llmConfig.Temperature, time.Duration(llmConfig.TimeoutSecs)*time.Second)
	c.model = llmConfig.Model
	return c, nil
}

func NewClient(llm llms.Model, temperature float64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{llm: llm, temperature: temperature, timeout: timeout}
}

// Complete answers prompt under the grounding system instruction. Transport
// failures, timeouts and empty replies are reported as models.ErrGeneration.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	start := time.Now()
	res, err := c.llm.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return "", models.Wrap(models.ErrGeneration, "generate content", err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", models.Errorf(models.ErrGeneration, "empty response from llm")
	}

	content := strings.TrimSpace(res.Choices[0].Content)
	if content == "" {
		return "", models.Errorf(models.ErrGeneration, "empty content from llm")
	}

	log.Debug().Str("model", c.model).Dur("elapsed", time.Since(start)).Int("chars", len(content)).Msg("Generated answer")
	return content, nil
}
