// Package llm provides the text classification capability used by the
// enrichment pipeline.
//
// It defines the Provider interface that all LLM transports must satisfy,
// generation options, and the Classifier that layers configuration checks,
// timeouts and a circuit breaker on top of a Provider.
package llm

import (
	"context"
	"errors"
)

// Predefined errors returned by providers and the classifier.
var (
	// ErrNotConfigured indicates that the provider is missing an API key or model.
	ErrNotConfigured = errors.New("llm not configured: missing api key or model")

	// ErrTransport indicates that the request to the model failed or timed out.
	ErrTransport = errors.New("llm transport failed")

	// ErrEmptyResponse indicates that the model returned no content.
	ErrEmptyResponse = errors.New("llm returned empty response")

	// ErrCircuitOpen indicates that calls are short-circuited after repeated failures.
	ErrCircuitOpen = errors.New("llm circuit open")
)

// Provider defines the interface for LLM providers.
//
// All transports (OpenAI-compatible, custom HTTP endpoint) must implement this interface.
type Provider interface {
	// Generate generates text from a prompt.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - prompt: The input prompt text
	//   - opts: Optional generation parameters (temperature, max tokens, etc.)
	//
	// Returns the generated text and any error.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages generates text from a conversation history.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - messages: Conversation history (system, user, assistant messages)
	//   - opts: Optional generation parameters
	//
	// Returns the generated text and any error.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// Close closes the provider and releases resources.
	Close() error
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the message role: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message content text.
	Content string `json:"content"`
}

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Temperature controls randomness (0.0-2.0). Higher = more random.
	Temperature float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// TopP controls nucleus sampling (0.0-1.0). Higher = more diverse.
	TopP float64

	// Stop contains stop sequences that will end generation.
	Stop []string
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the temperature for text generation.
//
// Example:
//
//	text, _ := provider.Generate(ctx, "Hello", llm.WithTemperature(0.3))
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens in the response.
//
// Example:
//
//	text, _ := provider.Generate(ctx, "Hello", llm.WithMaxTokens(100))
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets the top-p (nucleus sampling) parameter.
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// WithStop sets stop sequences.
func WithStop(stop ...string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Stop = stop
	}
}

// ApplyGenerateOptions applies a slice of GenerateOption functions to create GenerateOptions.
//
// This is a helper function used internally by LLM implementations.
// Default values: Temperature=0.7, MaxTokens=1000, TopP=1.0.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
