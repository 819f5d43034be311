package services

import (
	"context"
	"errors"
	"fmt"
)

// Message roles understood by every generation backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotConfigured reports a backend whose credentials are missing.
var ErrNotConfigured = errors.New("backend not configured")

// APIError is a non-2xx answer from an upstream service.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.Status, e.Message)
}

// LLMService provides language model completions
type LLMService interface {
	Name() string

	// Complete returns the whole response at once
	Complete(ctx context.Context, req LLMRequest) (string, error)

	// Stream returns the response as a sequence of text deltas. The caller
	// must Close the stream.
	Stream(ctx context.Context, req LLMRequest) (TokenStream, error)
}

// TokenStream yields generation deltas. Next returns io.EOF after the last
// delta; it never returns an empty delta with a nil error.
type TokenStream interface {
	Next() (string, error)
	Close() error
}

// EmbeddingService turns text into vectors
type EmbeddingService interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// LLMMessage represents a message in the conversation
type LLMMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// LLMRequest is one generation call. Zero values fall back to the service defaults.
type LLMRequest struct {
	Messages    []LLMMessage
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Temperature is a helper for LLMRequest.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

// LLMContext holds the conversation context for a single generation call
type LLMContext struct {
	Messages     []LLMMessage
	SystemPrompt string
}

// NewLLMContext creates a new LLM context
func NewLLMContext(systemPrompt string) *LLMContext {
	return &LLMContext{
		Messages:     make([]LLMMessage, 0),
		SystemPrompt: systemPrompt,
	}
}

func (c *LLMContext) AddUserMessage(content string) {
	c.Messages = append(c.Messages, LLMMessage{Role: RoleUser, Content: content})
}

func (c *LLMContext) AddAssistantMessage(content string) {
	c.Messages = append(c.Messages, LLMMessage{Role: RoleAssistant, Content: content})
}

func (c *LLMContext) AddSystemMessage(content string) {
	c.Messages = append(c.Messages, LLMMessage{Role: RoleSystem, Content: content})
}

// AddMessages appends history in order
func (c *LLMContext) AddMessages(msgs []LLMMessage) {
	c.Messages = append(c.Messages, msgs...)
}

// Request flattens the context into a request: system prompt first, then messages.
func (c *LLMContext) Request() LLMRequest {
	msgs := make([]LLMMessage, 0, len(c.Messages)+1)
	if c.SystemPrompt != "" {
		msgs = append(msgs, LLMMessage{Role: RoleSystem, Content: c.SystemPrompt})
	}
	msgs = append(msgs, c.Messages...)
	return LLMRequest{Messages: msgs}
}

// Clone creates a deep copy of the context
func (c *LLMContext) Clone() *LLMContext {
	clone := &LLMContext{
		SystemPrompt: c.SystemPrompt,
		Messages:     make([]LLMMessage, len(c.Messages)),
	}
	copy(clone.Messages, c.Messages)
	return clone
}
