package llm

import (
	"context"
	"sync"
)

// MockCall records the arguments of one GenerateResponse call.
type MockCall struct {
	Prompt        string
	SystemMessage string
	Temperature   float64
	JSONMode      bool
}

// MockLLMClient is a configurable mock for testing LLM functionality.
// Set the function fields to control behavior in tests.
type MockLLMClient struct {
	// GenerateResponseFunc is called when GenerateResponse is invoked.
	// If nil, returns an empty result and nil error.
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64, jsonMode bool) (*GenerateResponseResult, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Endpoint is returned by GetEndpoint. Defaults to "http://mock-endpoint".
	Endpoint string

	mu                    sync.Mutex
	GenerateResponseCalls int
	Calls                 []MockCall
}

// NewMockLLMClient creates a new mock with sensible defaults.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Model:    "mock-model",
		Endpoint: "http://mock-endpoint",
	}
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, jsonMode bool) (*GenerateResponseResult, error) {
	m.mu.Lock()
	m.GenerateResponseCalls++
	m.Calls = append(m.Calls, MockCall{
		Prompt:        prompt,
		SystemMessage: systemMessage,
		Temperature:   temperature,
		JSONMode:      jsonMode,
	})
	fn := m.GenerateResponseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, systemMessage, temperature, jsonMode)
	}
	return &GenerateResponseResult{}, nil
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetEndpoint implements LLMClient.
func (m *MockLLMClient) GetEndpoint() string {
	if m.Endpoint == "" {
		return "http://mock-endpoint"
	}
	return m.Endpoint
}

// CallCount returns the number of GenerateResponse calls so far.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GenerateResponseCalls
}

// Reset clears call tracking.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateResponseCalls = 0
	m.Calls = nil
}

var _ LLMClient = (*MockLLMClient)(nil)
