package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/messaging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services/workqueue"
)

// ErrWorkersNotBound is returned when a job is dispatched before SetWorkers.
var ErrWorkersNotBound = errors.New("job workers are not bound")

// JobDispatcher hands background work off and returns without waiting for it.
type JobDispatcher interface {
	DispatchExtraction(ctx context.Context, userID string, rawPromptID uuid.UUID) error
	DispatchCategorization(ctx context.Context, userID string, force bool) error
}

// CategorizationRunner runs one categorization pass for a user.
type CategorizationRunner interface {
	Run(ctx context.Context, userID string, force bool) (*CategorizationResult, error)
}

// LocalDispatcher runs jobs on an in-process work queue.
type LocalDispatcher struct {
	queue  *workqueue.Queue
	logger *zap.Logger

	mu             sync.RWMutex
	extraction     ExtractionService
	categorization CategorizationRunner
}

// NewLocalDispatcher creates a dispatcher backed by queue. Workers are bound
// later with SetWorkers because the services that dispatch are also the ones
// that run the jobs.
func NewLocalDispatcher(queue *workqueue.Queue, logger *zap.Logger) *LocalDispatcher {
	return &LocalDispatcher{
		queue:  queue,
		logger: logger.Named("dispatcher"),
	}
}

var _ JobDispatcher = (*LocalDispatcher)(nil)

// SetWorkers binds the services that execute jobs.
func (d *LocalDispatcher) SetWorkers(extraction ExtractionService, categorization CategorizationRunner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extraction = extraction
	d.categorization = categorization
}

func (d *LocalDispatcher) DispatchExtraction(ctx context.Context, userID string, rawPromptID uuid.UUID) error {
	_, err := d.Dispatch(ctx, models.Job{Kind: models.JobKindExtraction, UserID: userID, RawPromptID: &rawPromptID})
	return err
}

func (d *LocalDispatcher) DispatchCategorization(ctx context.Context, userID string, force bool) error {
	_, err := d.Dispatch(ctx, models.Job{Kind: models.JobKindCategorization, UserID: userID, Force: force})
	return err
}

// Dispatch enqueues the task for job and returns a handle to await it.
func (d *LocalDispatcher) Dispatch(_ context.Context, job models.Job) (*workqueue.Handle, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	extraction, categorization := d.extraction, d.categorization
	d.mu.RUnlock()

	var task workqueue.Task
	switch job.Kind {
	case models.JobKindExtraction:
		if extraction == nil {
			return nil, ErrWorkersNotBound
		}
		task = NewExtractionTask(extraction, job.UserID, *job.RawPromptID)
	case models.JobKindCategorization:
		if categorization == nil {
			return nil, ErrWorkersNotBound
		}
		task = NewCategorizationTask(categorization, job.UserID, job.Force, d.logger)
	}

	handle, err := d.queue.Enqueue(task)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", job.Kind, err)
	}
	return handle, nil
}

// Tasks returns the queue's task snapshots for one user.
func (d *LocalDispatcher) Tasks(userID string) []workqueue.TaskSnapshot {
	return d.queue.TasksForKey(userID)
}

// JobPublisher publishes jobs to a broker.
type JobPublisher interface {
	PublishJob(ctx context.Context, job models.Job) error
}

// AMQPDispatcher publishes jobs to RabbitMQ. A JobConsumer on any instance runs them.
type AMQPDispatcher struct {
	publisher JobPublisher
}

// NewAMQPDispatcher creates a dispatcher that publishes through publisher.
func NewAMQPDispatcher(publisher JobPublisher) *AMQPDispatcher {
	return &AMQPDispatcher{publisher: publisher}
}

var _ JobDispatcher = (*AMQPDispatcher)(nil)

func (d *AMQPDispatcher) DispatchExtraction(ctx context.Context, userID string, rawPromptID uuid.UUID) error {
	return d.publisher.PublishJob(ctx, models.Job{Kind: models.JobKindExtraction, UserID: userID, RawPromptID: &rawPromptID})
}

func (d *AMQPDispatcher) DispatchCategorization(ctx context.Context, userID string, force bool) error {
	return d.publisher.PublishJob(ctx, models.Job{Kind: models.JobKindCategorization, UserID: userID, Force: force})
}

// JobSource delivers jobs from a broker.
type JobSource interface {
	ConsumeJobs(ctx context.Context, handler messaging.JobHandler) error
}

// JobConsumer moves brokered jobs onto the local queue. A delivery is acked
// only after its task finishes, so jobs interrupted by a shutdown are
// redelivered to another instance.
type JobConsumer struct {
	source JobSource
	local  *LocalDispatcher
	logger *zap.Logger
}

// NewJobConsumer creates a consumer that runs jobs from source on local.
func NewJobConsumer(source JobSource, local *LocalDispatcher, logger *zap.Logger) *JobConsumer {
	return &JobConsumer{
		source: source,
		local:  local,
		logger: logger.Named("job-consumer"),
	}
}

// Run consumes until ctx ends or the broker goes away.
func (c *JobConsumer) Run(ctx context.Context) error {
	err := c.source.ConsumeJobs(ctx, c.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *JobConsumer) handle(ctx context.Context, job models.Job) error {
	handle, err := c.local.Dispatch(ctx, job)
	if err != nil {
		if errors.Is(err, workqueue.ErrQueueClosed) || errors.Is(err, ErrWorkersNotBound) {
			return fmt.Errorf("%w: %v", messaging.ErrRequeue, err)
		}
		return err
	}

	err = handle.Wait(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", messaging.ErrRequeue, err)
	default:
		// The worker already recorded or logged the failure.
		c.logger.Warn("job finished with error",
			zap.String("kind", string(job.Kind)),
			zap.String("user_id", job.UserID),
			zap.String("task_id", handle.ID),
			zap.Error(err))
		return nil
	}
}
