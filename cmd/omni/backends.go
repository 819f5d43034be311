package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/services/gemini"
	"github.com/square-key-labs/omni-ai/src/services/openai"
	"github.com/square-key-labs/omni-ai/src/services/retell"
)

func newLLM(c config.Config) (services.LLMService, error) {
	switch c.LLMProvider {
	case config.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			log.Warn("OPENAI_API_KEY is not set; generation requests will fail")
		}
		return openai.NewLLMService(openai.LLMConfig{
			APIKey:    c.OpenAIAPIKey,
			BaseURL:   c.OpenAIBaseURL,
			Model:     c.Model,
			MaxTokens: c.MaxTokens,
			Timeout:   c.GenerationTimeout,
		}), nil
	case config.ProviderGemini:
		if c.GeminiAPIKey == "" {
			log.Warn("GEMINI_API_KEY is not set; generation requests will fail")
		}
		return gemini.NewLLMService(gemini.LLMConfig{
			APIKey:    c.GeminiAPIKey,
			BaseURL:   c.GeminiBaseURL,
			Model:     c.GeminiModel,
			MaxTokens: c.MaxTokens,
			Timeout:   c.GenerationTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", c.LLMProvider)
	}
}

// newEmbedder returns nil for the "none" provider, which leaves intent
// detection keyword-only.
func newEmbedder(ctx context.Context, c config.Config) (services.EmbeddingService, error) {
	switch c.EmbeddingProvider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			log.Warn("OPENAI_API_KEY is not set; semantic intent detection disabled")
			return nil, nil
		}
		return openai.NewEmbeddingService(openai.EmbeddingConfig{
			APIKey:       c.OpenAIAPIKey,
			BaseURL:      c.OpenAIBaseURL,
			Model:        c.EmbeddingModel,
			Timeout:      c.EmbeddingTimeout,
			BatchTimeout: c.EmbeddingBatchTimeout,
		}), nil
	case config.ProviderGemini:
		if c.GeminiAPIKey == "" && !c.UseVertexAI {
			log.Warn("GEMINI_API_KEY is not set; semantic intent detection disabled")
			return nil, nil
		}
		svc, err := gemini.NewEmbeddingService(ctx, gemini.EmbeddingConfig{
			APIKey:       c.GeminiAPIKey,
			Model:        c.GeminiEmbeddingModel,
			UseVertexAI:  c.UseVertexAI,
			Project:      c.GoogleCloudProject,
			Location:     c.GoogleCloudLocation,
			Timeout:      c.EmbeddingTimeout,
			BatchTimeout: c.EmbeddingBatchTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini embeddings: %w", err)
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", c.EmbeddingProvider)
	}
}

func newRetell(c config.Config) *retell.Client {
	return retell.NewClient(retell.ClientConfig{
		APIKey:  c.RetellAPIKey,
		BaseURL: c.RetellBaseURL,
		Timeout: c.RetellTimeout,
	})
}

// summaryModel keeps history summaries on the generation provider: the
// default summary model only exists on OpenAI.
func summaryModel(c config.Config) string {
	if c.LLMProvider == config.ProviderGemini && strings.HasPrefix(c.SummaryModel, "gpt-") {
		return c.GeminiModel
	}
	return c.SummaryModel
}
