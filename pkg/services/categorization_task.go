package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/services/workqueue"
)

// CategorizationTask runs one categorization pass for a user. A pending pass
// already covers everything a second request would do, so requests with the
// same force flag coalesce.
type CategorizationTask struct {
	workqueue.BaseTask
	runner CategorizationRunner
	userID string
	force  bool
	logger *zap.Logger
}

// NewCategorizationTask creates a task keyed by the user.
func NewCategorizationTask(runner CategorizationRunner, userID string, force bool, logger *zap.Logger) *CategorizationTask {
	return &CategorizationTask{
		BaseTask: workqueue.NewBaseTask("categorization", userID, fmt.Sprintf("categorization:%s:%t", userID, force)),
		runner:   runner,
		userID:   userID,
		force:    force,
		logger:   logger,
	}
}

// Execute implements workqueue.Task.
func (t *CategorizationTask) Execute(ctx context.Context) error {
	result, err := t.runner.Run(ctx, t.userID, t.force)
	if err != nil {
		return err
	}
	t.logger.Info("categorization finished",
		zap.String("user_id", t.userID),
		zap.Bool("force", t.force),
		zap.Int("pages", result.Pages),
		zap.Int("ai_calls", result.AICalls),
		zap.Int("applied", result.Applied),
		zap.Int("rejected", result.Rejected),
		zap.Int("skipped_pages", result.SkippedPages))
	return nil
}
