package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/config"
)

// NewClientFromConfig builds the provider client selected by cfg.Provider and wraps it.
// The chain is GuardedClient → RecordingClient (when recorder is non-nil) → provider,
// so calls rejected by an open circuit never reach the audit table.
func NewClientFromConfig(ctx context.Context, cfg *config.AIConfig, recorder ConversationRecorder, logger *zap.Logger) (LLMClient, error) {
	provider, err := NewProviderClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var client LLMClient = provider
	if recorder != nil {
		client = NewRecordingClient(client, recorder)
	}

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.BreakerThreshold,
		ResetAfter: cfg.BreakerResetAfter,
	})
	return NewGuardedClient(client, breaker, logger), nil
}

// NewProviderClient creates the unwrapped client for cfg.Provider.
func NewProviderClient(ctx context.Context, cfg *config.AIConfig, logger *zap.Logger) (LLMClient, error) {
	clientCfg := &Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.RequestTimeout,
	}

	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		c, err := NewClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return c, nil
	case config.ProviderAnthropic:
		c, err := NewAnthropicClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return c, nil
	case config.ProviderGemini:
		c, err := NewGeminiClient(ctx, clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
