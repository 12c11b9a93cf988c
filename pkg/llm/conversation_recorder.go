package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
)

// UserContextFunc acquires a user-scoped database connection for background work.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type UserContextFunc func(ctx context.Context, userID string) (context.Context, func(), error)

// ConversationRecorder persists AI call audit records.
type ConversationRecorder interface {
	// Record queues a finished call. It never blocks the caller.
	Record(call *models.AICall)
}

// AsyncConversationRecorder writes AI calls from a single background goroutine.
// The queue is bounded; when it is full, records are dropped with a warning.
type AsyncConversationRecorder struct {
	repo       repositories.AICallRepository
	getUserCtx UserContextFunc
	logger     *zap.Logger
	queue      chan *models.AICall
	done       chan struct{}
	closeOnce  sync.Once
}

// NewAsyncConversationRecorder creates a recorder and starts its writer goroutine.
func NewAsyncConversationRecorder(
	repo repositories.AICallRepository,
	getUserCtx UserContextFunc,
	logger *zap.Logger,
	queueSize int,
) *AsyncConversationRecorder {
	if queueSize <= 0 {
		queueSize = 100
	}

	r := &AsyncConversationRecorder{
		repo:       repo,
		getUserCtx: getUserCtx,
		logger:     logger.Named("ai-call-recorder"),
		queue:      make(chan *models.AICall, queueSize),
		done:       make(chan struct{}),
	}

	go r.processQueue()

	return r
}

// Record queues a call for persistence.
func (r *AsyncConversationRecorder) Record(call *models.AICall) {
	if call.UserID == "" {
		r.logger.Debug("Skipping AI call without user",
			zap.String("purpose", call.Purpose),
			zap.String("model", call.Model))
		return
	}

	select {
	case r.queue <- call:
	default:
		r.logger.Warn("AI call record queue full, dropping entry",
			zap.String("user_id", call.UserID),
			zap.String("purpose", call.Purpose),
			zap.String("model", call.Model))
	}
}

// Close stops accepting records and waits until queued ones are written.
// Record must not be called after Close.
func (r *AsyncConversationRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	<-r.done
}

func (r *AsyncConversationRecorder) processQueue() {
	defer close(r.done)

	for call := range r.queue {
		r.save(call)
	}
}

func (r *AsyncConversationRecorder) save(call *models.AICall) {
	ctx, cleanup, err := r.getUserCtx(context.Background(), call.UserID)
	if err != nil {
		r.logger.Error("Failed to acquire user context for AI call record",
			zap.String("user_id", call.UserID),
			zap.Error(err))
		return
	}
	defer cleanup()

	if err := r.repo.Save(ctx, call); err != nil {
		r.logger.Error("Failed to save AI call",
			zap.String("user_id", call.UserID),
			zap.String("purpose", call.Purpose),
			zap.String("model", call.Model),
			zap.Error(err))
		return
	}

	r.logger.Debug("Saved AI call",
		zap.String("id", call.ID.String()),
		zap.String("user_id", call.UserID),
		zap.String("status", call.Status),
		zap.Int("duration_ms", call.DurationMs))
}

var _ ConversationRecorder = (*AsyncConversationRecorder)(nil)
