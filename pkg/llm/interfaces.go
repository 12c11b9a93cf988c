package llm

import "context"

// LLMClient is the completion capability used by extraction, categorization and tips.
// Implementations return the raw model text; parsing is left to callers.
type LLMClient interface {
	// GenerateResponse sends one system + user message pair.
	// jsonMode asks the provider to constrain output to a JSON document where supported.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, jsonMode bool) (*GenerateResponseResult, error)
	GetModel() string
	GetEndpoint() string
}

// GenerateResponseResult carries the model text and token usage for one call.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
