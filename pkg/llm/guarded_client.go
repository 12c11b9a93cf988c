package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// GuardedClient routes calls through a CircuitBreaker.
type GuardedClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewGuardedClient wraps inner with breaker.
func NewGuardedClient(inner LLMClient, breaker *CircuitBreaker, logger *zap.Logger) *GuardedClient {
	return &GuardedClient{
		inner:   inner,
		breaker: breaker,
		logger:  logger.Named("llm-guard"),
	}
}

// GenerateResponse fails fast while the circuit is open.
func (g *GuardedClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
	jsonMode bool,
) (*GenerateResponseResult, error) {
	if err := g.breaker.Allow(); err != nil {
		g.logger.Warn("LLM call rejected by circuit breaker",
			zap.String("model", g.inner.GetModel()),
			zap.Error(err))
		return nil, err
	}

	result, err := g.inner.GenerateResponse(ctx, prompt, systemMessage, temperature, jsonMode)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		g.breaker.ReleaseProbe()
	case GetErrorType(err) == ErrorTypeEmpty:
		// The provider answered; only the content was unusable.
		g.breaker.RecordSuccess()
	default:
		g.breaker.RecordFailure()
		if g.breaker.State() == CircuitOpen {
			g.logger.Error("LLM circuit breaker open",
				zap.String("model", g.inner.GetModel()),
				zap.Int("consecutive_failures", g.breaker.ConsecutiveFailures()))
		}
	}
	return result, err
}

// GetModel returns the inner client's model.
func (g *GuardedClient) GetModel() string {
	return g.inner.GetModel()
}

// GetEndpoint returns the inner client's endpoint.
func (g *GuardedClient) GetEndpoint() string {
	return g.inner.GetEndpoint()
}

var _ LLMClient = (*GuardedClient)(nil)
