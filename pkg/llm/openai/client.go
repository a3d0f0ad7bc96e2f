// Package openai provides an llm.Provider backed by any OpenAI-compatible
// chat completion API (OpenAI, DeepSeek, DashScope compatible mode).
package openai

import (
	"context"

	"github.com/oceanbase/impression-go/pkg/llm"
	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI-compatible LLM client.
// It implements the llm.Provider interface.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for OpenAI-compatible LLMs.
// APIKey: API key (required)
// Model: Model name to use, defaults to "gpt-4o-mini"
// BaseURL: API base URL, defaults to the OpenAI official address
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new OpenAI-compatible LLM client.
//
// Args:
//   - cfg: Configuration containing APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: Client instance
//   - error: Returns llm.ErrNotConfigured if the API key is missing
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, llm.ErrNotConfigured
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate generates text based on the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text using message history.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - messages: Message history list, each message contains role and content
//   - opts: Optional generation parameters (temperature, max_tokens, top_p, etc.)
//
// Returns:
//   - string: Generated text content
//   - error: Returns an error if generation fails
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", llm.ErrEmptyResponse
	}

	return resp.Choices[0].Message.Content, nil
}

// Close is retained for interface compatibility; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
