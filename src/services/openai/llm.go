package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/services"
)

// LLMService provides chat completions using OpenAI
type LLMService struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	timeout   time.Duration
	client    *http.Client
	log       *logger.Logger
}

// LLMConfig holds configuration for OpenAI
type LLMConfig struct {
	APIKey     string
	BaseURL    string        // default https://api.openai.com/v1
	Model      string        // e.g., "gpt-4o"
	MaxTokens  int           // default cap when a request does not set one
	Timeout    time.Duration // bounds the whole call, streaming included
	HTTPClient *http.Client
}

// NewLLMService creates a new OpenAI LLM service
func NewLLMService(config LLMConfig) *LLMService {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "gpt-4o"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &LLMService{
		apiKey:    config.APIKey,
		baseURL:   config.BaseURL,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		timeout:   config.Timeout,
		client:    config.HTTPClient,
		log:       logger.WithPrefix("OpenAI"),
	}
}

func (s *LLMService) Name() string {
	return providerName
}

func (s *LLMService) buildBody(req services.LLMRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = s.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.maxTokens
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": req.Messages,
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if stream {
		body["stream"] = true
	}
	return body
}

// Complete runs a non-streaming chat completion
func (s *LLMService) Complete(ctx context.Context, req services.LLMRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := post(ctx, s.client, s.baseURL, s.apiKey, "/chat/completions", s.buildBody(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai read response: %w", err)
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("openai response missing choices: %.200s", raw)
	}

	s.log.Debug("Completion: %d chars", len(content.String()))
	return content.String(), nil
}

// Stream runs a streaming chat completion. The timeout covers the whole
// stream and is released by Close.
func (s *LLMService) Stream(ctx context.Context, req services.LLMRequest) (services.TokenStream, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	resp, err := post(ctx, s.client, s.baseURL, s.apiKey, "/chat/completions", s.buildBody(req, true))
	if err != nil {
		cancel()
		return nil, err
	}
	return services.NewSSEStream(resp.Body, "choices.0.delta.content", cancel), nil
}
