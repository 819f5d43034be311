package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/square-key-labs/omni-ai/src/services"
)

const providerName = "retell"

// ErrMissingAccessToken is returned when the gateway accepts a call but
// omits its access token.
var ErrMissingAccessToken = errors.New("retell: missing access_token")

// ClientConfig holds configuration for the Retell REST client
type ClientConfig struct {
	APIKey     string
	BaseURL    string // default https://api.retellai.com
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client creates web calls on the telephony gateway
type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// WebCall is a registered browser call
type WebCall struct {
	AccessToken string
	CallID      string
}

func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.retellai.com"
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Client{
		apiKey:  config.APIKey,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		timeout: config.Timeout,
		client:  config.HTTPClient,
	}
}

// Configured reports whether an API key is present
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// CreateWebCall registers a web call for agentID. Metadata is echoed back to
// the LLM websocket in the call_details frame.
func (c *Client) CreateWebCall(ctx context.Context, agentID string, metadata map[string]string) (WebCall, error) {
	if c.apiKey == "" {
		return WebCall{}, fmt.Errorf("%w: RETELL_API_KEY is not configured", services.ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bodyBytes, err := json.Marshal(map[string]interface{}{
		"agent_id": agentID,
		"metadata": metadata,
	})
	if err != nil {
		return WebCall{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/create-web-call", bytes.NewReader(bodyBytes))
	if err != nil {
		return WebCall{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return WebCall{}, fmt.Errorf("retell request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return WebCall{}, fmt.Errorf("retell read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return WebCall{}, &services.APIError{Provider: providerName, Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	call := WebCall{
		AccessToken: gjson.GetBytes(raw, "access_token").String(),
		CallID:      gjson.GetBytes(raw, "call_id").String(),
	}
	if call.AccessToken == "" {
		return call, ErrMissingAccessToken
	}
	return call, nil
}

func errorMessage(raw []byte) string {
	if gjson.ValidBytes(raw) {
		for _, key := range []string{"message", "error", "error.message"} {
			if v := gjson.GetBytes(raw, key); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return http.StatusText(http.StatusBadGateway)
}
