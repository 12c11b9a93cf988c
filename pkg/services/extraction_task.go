package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-ledger/pkg/services/workqueue"
)

// ExtractionTask extracts the event of one raw prompt.
// Tasks for the same prompt coalesce while pending.
type ExtractionTask struct {
	workqueue.BaseTask
	service     ExtractionService
	userID      string
	rawPromptID uuid.UUID
}

// NewExtractionTask creates a task keyed by the user.
func NewExtractionTask(service ExtractionService, userID string, rawPromptID uuid.UUID) *ExtractionTask {
	return &ExtractionTask{
		BaseTask:    workqueue.NewBaseTask("extraction", userID, "extraction:"+rawPromptID.String()),
		service:     service,
		userID:      userID,
		rawPromptID: rawPromptID,
	}
}

// Execute implements workqueue.Task.
func (t *ExtractionTask) Execute(ctx context.Context) error {
	return t.service.Process(ctx, t.userID, t.rawPromptID)
}
