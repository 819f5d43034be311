package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/square-key-labs/omni-ai/src/services"
)

func TestBuildBodyMapsRoles(t *testing.T) {
	svc := NewLLMService(LLMConfig{APIKey: "k", MaxTokens: 150})
	body := svc.buildBody(services.LLMRequest{
		Messages: []services.LLMMessage{
			{Role: services.RoleSystem, Content: "be brief"},
			{Role: services.RoleAssistant, Content: "hello"},
			{Role: services.RoleSystem, Content: "[Previous conversation summary: x]"},
			{Role: services.RoleUser, Content: "hi"},
		},
		Temperature: services.Temperature(0.3),
	})

	contents := body["contents"].([]map[string]interface{})
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[0]["role"])
	assert.Equal(t, "user", contents[1]["role"])

	sys := body["systemInstruction"].(map[string]interface{})
	parts := sys["parts"].([]map[string]string)
	assert.Equal(t, "be brief\n\n[Previous conversation summary: x]", parts[0]["text"])

	gen := body["generationConfig"].(map[string]interface{})
	assert.Equal(t, 150, gen["maxOutputTokens"])
	assert.Equal(t, 0.3, gen["temperature"])
}

func TestStreamGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:streamGenerateContent"))
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Good\"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\" morning\"}]}}]}\r\n\r\n")
	}))
	defer srv.Close()

	svc := NewLLMService(LLMConfig{APIKey: "k", BaseURL: srv.URL})
	stream, err := svc.Stream(context.Background(), services.LLMRequest{})
	require.NoError(t, err)
	text, err := services.Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Good morning", text)
}

func TestGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"))
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`)
	}))
	defer srv.Close()

	svc := NewLLMService(LLMConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second})
	out, err := svc.Complete(context.Background(), services.LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestGeminiErrors(t *testing.T) {
	_, err := NewLLMService(LLMConfig{}).Complete(context.Background(), services.LLMRequest{})
	assert.ErrorIs(t, err, services.ErrNotConfigured)

	_, err = NewEmbeddingService(context.Background(), EmbeddingConfig{})
	assert.ErrorIs(t, err, services.ErrNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad model"}}`)
	}))
	defer srv.Close()
	_, err = NewLLMService(LLMConfig{APIKey: "k", BaseURL: srv.URL}).Complete(context.Background(), services.LLMRequest{})
	var apiErr *services.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad model", apiErr.Message)
}

func TestEmbedBatchThroughSDK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := int(gjson.GetBytes(body, "requests.#").Int())
		if n == 0 {
			n = 1
		}
		w.Header().Set("Content-Type", "application/json")
		parts := make([]string, n)
		for i := range parts {
			parts[i] = fmt.Sprintf(`{"values":[%d,0.5]}`, i+1)
		}
		fmt.Fprintf(w, `{"embeddings":[%s]}`, strings.Join(parts, ","))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(context.Background(), EmbeddingConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float64{1, 0.5}, vecs[0])
	assert.Equal(t, []float64{3, 0.5}, vecs[2])
}
