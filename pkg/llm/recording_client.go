package llm

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// RecordingClient wraps an LLMClient and hands every call to a ConversationRecorder.
// The user and purpose are read from the call context (WithUserID, WithPurpose).
type RecordingClient struct {
	inner    LLMClient
	recorder ConversationRecorder
	now      func() time.Time
}

// NewRecordingClient creates a new recording wrapper around an LLMClient.
func NewRecordingClient(inner LLMClient, recorder ConversationRecorder) *RecordingClient {
	return &RecordingClient{
		inner:    inner,
		recorder: recorder,
		now:      time.Now,
	}
}

// GenerateResponse calls the inner client and records the request and its outcome.
// The call ID travels to the provider as X-Request-Id.
func (c *RecordingClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
	jsonMode bool,
) (*GenerateResponseResult, error) {
	call := &models.AICall{
		ID:            uuid.New(),
		UserID:        GetUserID(ctx),
		Purpose:       GetPurpose(ctx),
		Context:       GetContext(ctx),
		Endpoint:      c.inner.GetEndpoint(),
		Model:         c.inner.GetModel(),
		SystemMessage: systemMessage,
		Prompt:        prompt,
		Temperature:   temperature,
		JSONMode:      jsonMode,
	}

	start := c.now()
	result, err := c.inner.GenerateResponse(WithCallID(ctx, call.ID), prompt, systemMessage, temperature, jsonMode)
	call.DurationMs = int(c.now().Sub(start).Milliseconds())
	call.CreatedAt = start

	if err != nil {
		call.Status = models.AICallStatusError
		call.ErrorMessage = err.Error()
	} else {
		call.Status = models.AICallStatusSuccess
		if result != nil {
			call.ResponseContent = result.Content
			call.PromptTokens = &result.PromptTokens
			call.CompletionTokens = &result.CompletionTokens
			call.TotalTokens = &result.TotalTokens
		}
	}

	c.recorder.Record(call)

	return result, err
}

// GetModel returns the inner client's model.
func (c *RecordingClient) GetModel() string {
	return c.inner.GetModel()
}

// GetEndpoint returns the inner client's endpoint.
func (c *RecordingClient) GetEndpoint() string {
	return c.inner.GetEndpoint()
}

var _ LLMClient = (*RecordingClient)(nil)
