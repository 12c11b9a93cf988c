package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/config"
)

func testAIConfig(provider string) *config.AIConfig {
	return &config.AIConfig{
		Provider:          provider,
		Model:             "test-model",
		APIKey:            "test-key",
		RequestTimeout:    time.Second,
		MaxTokens:         512,
		BreakerThreshold:  3,
		BreakerResetAfter: time.Minute,
	}
}

func TestNewProviderClient_SelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		check    func(t *testing.T, c LLMClient)
	}{
		{config.ProviderOpenAI, func(t *testing.T, c LLMClient) {
			assert.IsType(t, &Client{}, c)
			assert.Equal(t, DefaultOpenAIEndpoint, c.GetEndpoint())
		}},
		{config.ProviderAnthropic, func(t *testing.T, c LLMClient) {
			assert.IsType(t, &AnthropicClient{}, c)
			assert.Equal(t, DefaultAnthropicEndpoint, c.GetEndpoint())
		}},
		{config.ProviderGemini, func(t *testing.T, c LLMClient) {
			assert.IsType(t, &GeminiClient{}, c)
			assert.Equal(t, DefaultGeminiEndpoint, c.GetEndpoint())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c, err := NewProviderClient(context.Background(), testAIConfig(tt.provider), zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, "test-model", c.GetModel())
			tt.check(t, c)
		})
	}
}

func TestNewProviderClient_UnknownProvider(t *testing.T) {
	_, err := NewProviderClient(context.Background(), testAIConfig("llama-farm"), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported ai provider")
}

func TestNewProviderClient_BaseURLOverride(t *testing.T) {
	cfg := testAIConfig(config.ProviderOpenAI)
	cfg.BaseURL = "http://localhost:8000/v1/"

	c, err := NewProviderClient(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/v1/", c.GetEndpoint())
}

func TestNewProviderClient_AnthropicRequiresKey(t *testing.T) {
	cfg := testAIConfig(config.ProviderAnthropic)
	cfg.APIKey = ""

	_, err := NewProviderClient(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewClientFromConfig_WrapsClient(t *testing.T) {
	recorder := &mockRecorder{}

	c, err := NewClientFromConfig(context.Background(), testAIConfig(config.ProviderOpenAI), recorder, zap.NewNop())
	require.NoError(t, err)

	guarded, ok := c.(*GuardedClient)
	require.True(t, ok, "outermost client must be the guard")
	assert.IsType(t, &RecordingClient{}, guarded.inner)
	assert.Equal(t, 3, guarded.breaker.threshold)
}

func TestNewClientFromConfig_NoRecorder(t *testing.T) {
	c, err := NewClientFromConfig(context.Background(), testAIConfig(config.ProviderOpenAI), nil, zap.NewNop())
	require.NoError(t, err)

	guarded, ok := c.(*GuardedClient)
	require.True(t, ok)
	assert.IsType(t, &Client{}, guarded.inner)
}
