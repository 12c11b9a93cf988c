package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultGeminiEndpoint is reported by GetEndpoint when no base URL override is set.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com"

// GeminiClient calls the Gemini API through the Google Gen AI SDK.
type GeminiClient struct {
	client    *genai.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewGeminiClient creates a client for Gemini models on the Gemini API backend.
func NewGeminiClient(ctx context.Context, cfg *Config, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for gemini")
	}

	endpoint := DefaultGeminiEndpoint
	httpOptions := genai.HTTPOptions{APIVersion: "v1beta"}
	if cfg.Endpoint != "" {
		endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
		httpOptions.BaseURL = endpoint
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  newHTTPClient(cfg.Timeout),
		HTTPOptions: httpOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		endpoint:  endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm-gemini"),
	}, nil
}

// GenerateResponse sends the prompt as a single user turn.
// jsonMode sets the response MIME type to application/json.
func (c *GeminiClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
	jsonMode bool,
) (*GenerateResponseResult, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if systemMessage != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(systemMessage, genai.RoleUser)
	}
	if c.maxTokens > 0 {
		genConfig.MaxOutputTokens = int32(c.maxTokens)
	}
	if jsonMode {
		genConfig.ResponseMIMEType = "application/json"
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature),
		zap.Bool("json_mode", jsonMode))

	start := time.Now()

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), genConfig)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		llmErr := ClassifyError(err)
		llmErr.Model = c.model
		llmErr.Endpoint = c.endpoint
		return nil, llmErr
	}

	content := resp.Text()
	if content == "" {
		return nil, NewErrorWithContext(ErrorTypeEmpty, "empty response from model", false, nil, c.model, c.endpoint, 0)
	}

	result := &GenerateResponseResult{Content: content}
	if usage := resp.UsageMetadata; usage != nil {
		result.PromptTokens = int(usage.PromptTokenCount)
		result.CompletionTokens = int(usage.CandidatesTokenCount)
		result.TotalTokens = int(usage.TotalTokenCount)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("completion_tokens", result.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// GetModel returns the configured model name.
func (c *GeminiClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the API base URL.
func (c *GeminiClient) GetEndpoint() string {
	return c.endpoint
}

var _ LLMClient = (*GeminiClient)(nil)
