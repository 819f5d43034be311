package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/square-key-labs/omni-ai/src/services"
)

// EmbeddingService computes text embeddings using OpenAI
type EmbeddingService struct {
	apiKey       string
	baseURL      string
	model        string
	timeout      time.Duration
	batchTimeout time.Duration
	client       *http.Client
}

// EmbeddingConfig holds configuration for OpenAI embeddings
type EmbeddingConfig struct {
	APIKey       string
	BaseURL      string
	Model        string // e.g., "text-embedding-3-small"
	Timeout      time.Duration
	BatchTimeout time.Duration
	HTTPClient   *http.Client
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewEmbeddingService(config EmbeddingConfig) *EmbeddingService {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &EmbeddingService{
		apiKey:       config.APIKey,
		baseURL:      config.BaseURL,
		model:        config.Model,
		timeout:      config.Timeout,
		batchTimeout: config.BatchTimeout,
		client:       config.HTTPClient,
	}
}

func (s *EmbeddingService) Name() string {
	return providerName
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := s.embed(ctx, s.timeout, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request; results follow input order.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embed(ctx, s.batchTimeout, texts, len(texts))
}

func (s *EmbeddingService) embed(ctx context.Context, timeout time.Duration, input interface{}, want int) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := post(ctx, s.client, s.baseURL, s.apiKey, "/embeddings", map[string]interface{}{
		"model": s.model,
		"input": input,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("openai embeddings decode: %w", err)
	}
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("openai embeddings: got %d vectors, want %d", len(parsed.Data), want)
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("openai embeddings: empty vector at index %d", d.Index)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

var _ services.EmbeddingService = (*EmbeddingService)(nil)
var _ services.LLMService = (*LLMService)(nil)
