// Package llm provides the LLM provider interface and implementations
// used for intent detection, entity extraction, and summary merging.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Message represents one chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// ChatRequest represents a chat request to the LLM.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// ChatResponse represents a chat response from the LLM.
type ChatResponse struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Chat sends a chat request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Provider  string      `json:"provider"` // anthropic, openai, google
	Model     string      `json:"model"`
	APIKey    string      `json:"api_key"`
	MaxTokens int         `json:"max_tokens"`
	BaseURL   string      `json:"base_url"`
	Retry     RetryConfig `json:"retry"`
}

// RetryConfig holds retry settings for LLM calls.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries"`  // default 5
	MaxBackoff  time.Duration `json:"max_backoff"`  // default 60s
	InitBackoff time.Duration `json:"init_backoff"` // default 1s
}

// NewProvider builds a provider from configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model,
			MaxTokens: cfg.MaxTokens, Retry: cfg.Retry,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model,
			MaxTokens: cfg.MaxTokens, Retry: cfg.Retry,
		})
	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey: cfg.APIKey, Model: cfg.Model,
			MaxTokens: cfg.MaxTokens, Retry: cfg.Retry,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// --- Mock Provider for Testing ---

// MockProvider is a mock LLM provider for testing.
type MockProvider struct {
	response    string
	err         error
	lastRequest *ChatRequest
	callCount   int

	// ChatFunc can be overridden for custom behavior
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SetResponse sets the response content.
func (p *MockProvider) SetResponse(content string) {
	p.response = content
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.err = err
}

// LastRequest returns the last request.
func (p *MockProvider) LastRequest() *ChatRequest {
	return p.lastRequest
}

// CallCount returns the number of Chat calls made.
func (p *MockProvider) CallCount() int {
	return p.callCount
}

// Chat implements the Provider interface.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.callCount++
	p.lastRequest = &req

	if p.ChatFunc != nil {
		return p.ChatFunc(ctx, req)
	}
	if p.err != nil {
		return nil, p.err
	}
	return &ChatResponse{
		Content:    p.response,
		StopReason: "end_turn",
	}, nil
}
