package llm

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	llmContextKey contextKey = "llm_context"
	userIDKey     contextKey = "llm_user_id"
	purposeKey    contextKey = "llm_purpose"
	callIDKey     contextKey = "llm_call_id"
)

// WithContext returns a context with AI call recording context attached.
// The context map is merged with any existing context.
func WithContext(ctx context.Context, values map[string]any) context.Context {
	existing := GetContext(ctx)
	if existing == nil {
		existing = make(map[string]any, len(values))
	}
	for k, v := range values {
		existing[k] = v
	}
	return context.WithValue(ctx, llmContextKey, existing)
}

// GetContext returns a copy of the recording context, or nil if none is set.
func GetContext(ctx context.Context) map[string]any {
	c, ok := ctx.Value(llmContextKey).(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// WithPurpose tags calls made with ctx, e.g. models.AIPurposeExtraction.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey, purpose)
}

// GetPurpose returns the purpose set by WithPurpose.
func GetPurpose(ctx context.Context) string {
	p, _ := ctx.Value(purposeKey).(string)
	return p
}

// WithUserID attributes calls made with ctx to a user.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID returns the user set by WithUserID.
func GetUserID(ctx context.Context) string {
	u, _ := ctx.Value(userIDKey).(string)
	return u
}

// WithCallID attaches the ID of the AI call being made.
func WithCallID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// CallIDFromContext returns the call ID set by WithCallID.
func CallIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(callIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
