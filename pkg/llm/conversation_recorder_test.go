package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// mockAICallRepo tracks saved calls for testing.
type mockAICallRepo struct {
	mu      sync.Mutex
	saved   []*models.AICall
	saveErr error
	block   chan struct{}
}

func (m *mockAICallRepo) Save(ctx context.Context, call *models.AICall) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, call)
	return nil
}

func (m *mockAICallRepo) ListRecent(ctx context.Context, userID string, limit int) ([]*models.AICall, error) {
	return nil, nil
}

func (m *mockAICallRepo) getSaved() []*models.AICall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AICall(nil), m.saved...)
}

func passthroughUserCtx(ctx context.Context, userID string) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func newTestCall(userID string) *models.AICall {
	return &models.AICall{
		ID:      uuid.New(),
		UserID:  userID,
		Purpose: models.AIPurposeExtraction,
		Model:   "gpt-4o",
		Status:  models.AICallStatusSuccess,
	}
}

func TestAsyncConversationRecorder_RecordsCalls(t *testing.T) {
	repo := &mockAICallRepo{}
	recorder := NewAsyncConversationRecorder(repo, passthroughUserCtx, zap.NewNop(), 10)

	recorder.Record(newTestCall("user-1"))
	recorder.Record(newTestCall("user-2"))
	recorder.Close()

	saved := repo.getSaved()
	require.Len(t, saved, 2)
	assert.Equal(t, "user-1", saved[0].UserID)
	assert.Equal(t, "user-2", saved[1].UserID)
}

func TestAsyncConversationRecorder_SkipsCallsWithoutUser(t *testing.T) {
	repo := &mockAICallRepo{}
	recorder := NewAsyncConversationRecorder(repo, passthroughUserCtx, zap.NewNop(), 10)

	recorder.Record(newTestCall(""))
	recorder.Close()

	assert.Empty(t, repo.getSaved())
}

func TestAsyncConversationRecorder_DropsWhenQueueFull(t *testing.T) {
	repo := &mockAICallRepo{block: make(chan struct{})}
	recorder := NewAsyncConversationRecorder(repo, passthroughUserCtx, zap.NewNop(), 1)

	// The writer takes the first call and blocks in Save; the second fills the queue.
	recorder.Record(newTestCall("user-1"))
	require.Eventually(t, func() bool { return len(recorder.queue) == 0 }, time.Second, 5*time.Millisecond)
	recorder.Record(newTestCall("user-1"))
	recorder.Record(newTestCall("user-1"))

	close(repo.block)
	recorder.Close()

	assert.Len(t, repo.getSaved(), 2)
}

func TestAsyncConversationRecorder_DefaultQueueSize(t *testing.T) {
	recorder := NewAsyncConversationRecorder(&mockAICallRepo{}, passthroughUserCtx, zap.NewNop(), 0)
	defer recorder.Close()

	assert.Equal(t, 100, cap(recorder.queue))
}

func TestAsyncConversationRecorder_ContinuesAfterErrors(t *testing.T) {
	repo := &mockAICallRepo{saveErr: errors.New("database unavailable")}
	var ctxCalls atomic.Int32
	getUserCtx := func(ctx context.Context, userID string) (context.Context, func(), error) {
		if ctxCalls.Add(1) == 1 {
			return nil, nil, errors.New("no connection")
		}
		return ctx, func() {}, nil
	}
	recorder := NewAsyncConversationRecorder(repo, getUserCtx, zap.NewNop(), 10)

	recorder.Record(newTestCall("user-1"))
	recorder.Record(newTestCall("user-1"))
	recorder.Close()

	assert.Equal(t, int32(2), ctxCalls.Load())
	assert.Empty(t, repo.getSaved())
}

func TestAsyncConversationRecorder_CallsCleanup(t *testing.T) {
	var cleaned atomic.Int32
	getUserCtx := func(ctx context.Context, userID string) (context.Context, func(), error) {
		return ctx, func() { cleaned.Add(1) }, nil
	}
	recorder := NewAsyncConversationRecorder(&mockAICallRepo{}, getUserCtx, zap.NewNop(), 10)

	recorder.Record(newTestCall("user-1"))
	recorder.Close()

	assert.Equal(t, int32(1), cleaned.Load())
}

func TestAsyncConversationRecorder_CloseIsIdempotent(t *testing.T) {
	recorder := NewAsyncConversationRecorder(&mockAICallRepo{}, passthroughUserCtx, zap.NewNop(), 10)

	recorder.Close()
	recorder.Close()
}
