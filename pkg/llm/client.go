// Package llm provides language model clients for the ledger's AI features.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultOpenAIEndpoint is used when no base URL is configured for the OpenAI provider.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// requestIDHeader carries the AI call ID so provider-side logs can be joined with ai_call rows.
const requestIDHeader = "X-Request-Id"

// Client provides access to OpenAI-compatible chat completion endpoints.
type Client struct {
	client    *openai.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

// Config holds configuration for creating an LLM client.
type Config struct {
	Endpoint  string        // Base URL, e.g., "https://api.openai.com/v1"
	Model     string        // Model name, e.g., "gpt-4o"
	APIKey    string        // Optional for local endpoints
	MaxTokens int           // Zero leaves the provider default
	Timeout   time.Duration // Per-request HTTP timeout
}

// NewClient creates a new OpenAI-compatible LLM client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(endpoint, "/")
	clientConfig.HTTPClient = newHTTPClient(cfg.Timeout)

	return &Client{
		client:    openai.NewClientWithConfig(clientConfig),
		endpoint:  endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm"),
	}, nil
}

// GenerateResponse generates a chat completion response with usage stats.
// jsonMode requests the json_object response format.
func (c *Client) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
	jsonMode bool,
) (*GenerateResponseResult, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(temperature),
		MaxTokens:   c.maxTokens,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature),
		zap.Bool("json_mode", jsonMode))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, c.parseError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewErrorWithContext(ErrorTypeEmpty, "no choices in response", false, nil, c.model, c.endpoint, 0)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResponseResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *Client) GetEndpoint() string {
	return c.endpoint
}

func (c *Client) parseError(err error) error {
	llmErr := ClassifyError(err)
	llmErr.Model = c.model
	llmErr.Endpoint = c.endpoint
	return llmErr
}

var _ LLMClient = (*Client)(nil)

// newHTTPClient returns the HTTP client shared by all providers.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &contextAwareTransport{base: http.DefaultTransport},
	}
}

// contextAwareTransport copies the AI call ID from the request context into X-Request-Id.
type contextAwareTransport struct {
	base http.RoundTripper
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id, ok := CallIDFromContext(req.Context())
	if !ok {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(requestIDHeader, id.String())
	return t.base.RoundTrip(clone)
}
