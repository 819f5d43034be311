package gemini

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/genai"

	"github.com/square-key-labs/omni-ai/src/services"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// EmbeddingConfig holds configuration for Gemini or Vertex AI embeddings
type EmbeddingConfig struct {
	APIKey       string
	Model        string // e.g., "text-embedding-004"
	UseVertexAI  bool   // use Application Default Credentials instead of an API key
	Project      string
	Location     string
	BaseURL      string // optional endpoint override
	Timeout      time.Duration
	BatchTimeout time.Duration
	HTTPClient   *http.Client
}

// EmbeddingService computes embeddings through the genai SDK
type EmbeddingService struct {
	client       *genai.Client
	model        string
	timeout      time.Duration
	batchTimeout time.Duration
}

// NewEmbeddingService builds the genai client. With UseVertexAI the
// credentials are resolved from the environment (ADC).
func NewEmbeddingService(ctx context.Context, config EmbeddingConfig) (*EmbeddingService, error) {
	if config.Model == "" {
		config.Model = "text-embedding-004"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 30 * time.Second
	}

	cc := &genai.ClientConfig{
		HTTPClient: config.HTTPClient,
	}
	if config.UseVertexAI {
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes: []string{cloudPlatformScope},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: vertex credentials: %v", services.ErrNotConfigured, err)
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = config.Project
		cc.Location = config.Location
		cc.Credentials = creds
	} else {
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", services.ErrNotConfigured)
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = config.APIKey
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &EmbeddingService{
		client:       client,
		model:        config.Model,
		timeout:      config.Timeout,
		batchTimeout: config.BatchTimeout,
	}, nil
}

func (s *EmbeddingService) Name() string {
	return providerName
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := s.embed(ctx, s.timeout, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embed(ctx, s.batchTimeout, texts)
}

func (s *EmbeddingService) embed(ctx context.Context, timeout time.Duration, texts []string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := s.client.Models.EmbedContent(ctx, s.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("gemini embed: got %d vectors, want %d", got, len(texts))
	}

	out := make([][]float64, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini embed: empty vector at index %d", i)
		}
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

var _ services.EmbeddingService = (*EmbeddingService)(nil)
