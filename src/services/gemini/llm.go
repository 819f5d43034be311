package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/services"
)

const providerName = "gemini"

// LLMService provides language model capabilities using Google Gemini
type LLMService struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	timeout   time.Duration
	client    *http.Client
	log       *logger.Logger
}

// LLMConfig holds configuration for Gemini
type LLMConfig struct {
	APIKey     string
	BaseURL    string // default https://generativelanguage.googleapis.com/v1beta
	Model      string // e.g., "gemini-2.0-flash"
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewLLMService creates a new Gemini LLM service
func NewLLMService(config LLMConfig) *LLMService {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &LLMService{
		apiKey:    config.APIKey,
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		model:     config.Model,
		maxTokens: config.MaxTokens,
		timeout:   config.Timeout,
		client:    config.HTTPClient,
		log:       logger.WithPrefix("Gemini"),
	}
}

func (s *LLMService) Name() string {
	return providerName
}

// buildBody converts chat messages to Gemini contents. System messages are
// joined into systemInstruction; the assistant role is called "model".
func (s *LLMService) buildBody(req services.LLMRequest) map[string]interface{} {
	var system []string
	contents := []map[string]interface{}{}

	for _, msg := range req.Messages {
		role := msg.Role
		switch role {
		case services.RoleSystem:
			system = append(system, msg.Content)
			continue
		case services.RoleAssistant:
			role = "model"
		default:
			role = "user"
		}
		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": []map[string]string{{"text": msg.Content}},
		})
	}

	genConfig := map[string]interface{}{}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.maxTokens
	}
	if maxTokens > 0 {
		genConfig["maxOutputTokens"] = maxTokens
	}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}

	body := map[string]interface{}{
		"contents":         contents,
		"generationConfig": genConfig,
	}
	if len(system) > 0 {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]string{{"text": strings.Join(system, "\n\n")}},
		}
	}
	return body
}

func (s *LLMService) do(ctx context.Context, req services.LLMRequest, method string) (*http.Response, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", services.ErrNotConfigured)
	}

	model := req.Model
	if model == "" {
		model = s.model
	}

	bodyBytes, err := json.Marshal(s.buildBody(req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:%s", s.baseURL, model, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &services.APIError{Provider: providerName, Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

func (s *LLMService) Complete(ctx context.Context, req services.LLMRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.do(ctx, req, "generateContent")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini read response: %w", err)
	}
	parts := gjson.GetBytes(raw, "candidates.0.content.parts.#.text")
	if !parts.Exists() || len(parts.Array()) == 0 {
		return "", fmt.Errorf("gemini response missing candidates: %.200s", raw)
	}

	var sb strings.Builder
	for _, p := range parts.Array() {
		sb.WriteString(p.String())
	}
	s.log.Debug("Completion: %d chars", sb.Len())
	return sb.String(), nil
}

// Stream uses streamGenerateContent in SSE mode
func (s *LLMService) Stream(ctx context.Context, req services.LLMRequest) (services.TokenStream, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	resp, err := s.do(ctx, req, "streamGenerateContent?alt=sse")
	if err != nil {
		cancel()
		return nil, err
	}
	return services.NewSSEStream(resp.Body, "candidates.0.content.parts.0.text", cancel), nil
}

var _ services.LLMService = (*LLMService)(nil)
