package retell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/square-key-labs/omni-ai/src/services"
)

func TestCreateWebCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/create-web-call", r.URL.Path)
		assert.Equal(t, "Bearer key_1", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "agent_a", gjson.GetBytes(body, "agent_id").String())
		assert.Equal(t, "cust_1", gjson.GetBytes(body, "metadata.customer_id").String())
		assert.Equal(t, "default", gjson.GetBytes(body, "metadata.voice_id").String())
		fmt.Fprint(w, `{"access_token":"tok","call_id":"call_9"}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "key_1", BaseURL: srv.URL})
	call, err := c.CreateWebCall(context.Background(), "agent_a", map[string]string{"customer_id": "cust_1", "voice_id": "default"})
	require.NoError(t, err)
	assert.Equal(t, WebCall{AccessToken: "tok", CallID: "call_9"}, call)
}

func TestCreateWebCallUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"agent not found"}`)
	}))
	defer srv.Close()

	_, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL}).CreateWebCall(context.Background(), "x", nil)
	var apiErr *services.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "agent not found", apiErr.Message)
}

func TestCreateWebCallMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"call_id":"c"}`)
	}))
	defer srv.Close()

	_, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL}).CreateWebCall(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrMissingAccessToken)
}

func TestCreateWebCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 30 * time.Millisecond})
	_, err := c.CreateWebCall(context.Background(), "x", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateWebCallNotConfigured(t *testing.T) {
	c := NewClient(ClientConfig{})
	assert.False(t, c.Configured())
	_, err := c.CreateWebCall(context.Background(), "x", nil)
	assert.ErrorIs(t, err, services.ErrNotConfigured)
}
