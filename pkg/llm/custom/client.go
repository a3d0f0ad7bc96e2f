// Package custom provides an llm.Provider for self-hosted chat endpoints.
//
// The endpoint receives an OpenAI-style chat request and may answer either
// with an OpenAI-style body (choices[0].message.content) or a flat
// {"content": "..."} object.
package custom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/tidwall/gjson"
)

// Client is a custom HTTP endpoint LLM client.
// It implements the llm.Provider interface.
type Client struct {
	client   *http.Client
	apiKey   string
	model    string
	endpoint string
}

// Config is the configuration for a custom endpoint.
// APIKey: Sent as a bearer token when set
// Model: Model name forwarded in the request body
// Endpoint: Full URL the request is POSTed to (required)
// HTTPClient: Custom HTTP client, if nil uses a client with a 30 second timeout
type Config struct {
	APIKey     string
	Model      string
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient creates a new custom endpoint client.
//
// Args:
//   - cfg: Endpoint configuration
//
// Returns:
//   - *Client: Client instance
//   - error: Returns llm.ErrNotConfigured if the endpoint is missing
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", llm.ErrNotConfigured)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		client:   client,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		endpoint: cfg.Endpoint,
	}, nil
}

// Generate generates text based on the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages posts the conversation to the endpoint and returns the reply text.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	reqBody := map[string]interface{}{
		"model":       c.model,
		"messages":    messages,
		"temperature": options.Temperature,
		"max_tokens":  options.MaxTokens,
		"top_p":       options.TopP,
	}
	if len(options.Stop) > 0 {
		reqBody["stop"] = options.Stop
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return extractContent(body)
}

// extractContent reads the reply from either supported response shape.
func extractContent(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("decode response: invalid json")
	}

	for _, path := range []string{"choices.0.message.content", "content"} {
		if value := gjson.GetBytes(body, path); value.Exists() && value.Type == gjson.String {
			if text := value.String(); strings.TrimSpace(text) != "" {
				return text, nil
			}
		}
	}

	return "", llm.ErrEmptyResponse
}

// Close is retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
