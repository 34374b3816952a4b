package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
)

// NewClient builds the generation and embedding clients for the configured
// provider, wrapped with retries. The embedder is nil when the provider has
// no embedding API.
func NewClient(ctx context.Context, cfg config.LLMConfig, log *zap.Logger) (LLMClient, EmbedderClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	provider := strings.ToLower(cfg.Provider)

	var gen LLMClient
	var emb EmbedderClient

	switch provider {
	case "openai":
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL)
		c.JSONMode = cfg.JSONMode
		gen, emb = c, c

	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		c.JSONMode = cfg.JSONMode
		gen, emb = c, c

	case "claude":
		gen = NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens)

	case "ollama":
		// Ollama speaks the OpenAI wire protocol under /v1.
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		log.Info("initializing ollama via openai-compatible api", zap.String("base_url", baseURL))

		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama" // ignored by the server
		}
		c := NewOpenAIClient(apiKey, cfg.Model, cfg.EmbeddingModel, baseURL)
		c.JSONMode = cfg.JSONMode
		gen, emb = c, c

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}

	r := NewRetryingClient(gen, emb, cfg.MaxRetries, log)
	if emb == nil {
		return r, nil, nil
	}
	return r, r, nil
}
