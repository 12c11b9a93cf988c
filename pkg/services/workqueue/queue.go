package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/retry"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("work queue is shut down")

// RetryConfig configures retry behavior for failed tasks.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration (cap)
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig disables retries. Extraction and categorization are
// re-triggered by the next upload or an explicit request instead.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     0,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

const defaultRetainedTasks = 500

// Queue is a long-lived task runner. Tasks start in FIFO order as the
// concurrency strategy allows, run on the queue's own context rather than the
// caller's, and their final snapshots are kept for a bounded history.
type Queue struct {
	mu       sync.Mutex
	pending  []*TaskState
	running  map[string]*TaskState
	finished []*TaskState
	closed   bool

	strategy      ConcurrencyStrategy
	retryConfig   RetryConfig
	retainedTasks int

	// idle is closed whenever nothing is pending or running
	idle chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	now    func() time.Time
	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config RetryConfig) QueueOption {
	return func(q *Queue) {
		q.retryConfig = config
	}
}

// WithRetainedTasks bounds how many finished tasks GetTasks reports.
func WithRetainedTasks(n int) QueueOption {
	return func(q *Queue) {
		if n >= 0 {
			q.retainedTasks = n
		}
	}
}

// New creates a queue. Without options it runs one task per key, one at a time.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		running:       make(map[string]*TaskState),
		strategy:      NewKeyedStrategy(1),
		retryConfig:   DefaultRetryConfig(),
		retainedTasks: defaultRetainedTasks,
		idle:          idle,
		ctx:           ctx,
		cancel:        cancel,
		now:           time.Now,
		logger:        logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Handle tracks one enqueued task.
type Handle struct {
	// ID of the task that will do the work. For a coalesced enqueue this is
	// the ID of the pending task the request was folded into.
	ID        string
	Coalesced bool

	state *TaskState
}

// Done is closed when the task reaches a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.state.Done()
}

// Wait blocks until the task finishes and returns its error, or ctx.Err().
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.state.Done():
		if h.state.GetStatus() == TaskStatusCancelled {
			return context.Canceled
		}
		return h.state.GetError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state of the task.
func (h *Handle) Snapshot() TaskSnapshot {
	return h.state.Snapshot()
}

// Enqueue adds a task and starts whatever is eligible. A task whose DedupKey
// matches a pending task is not added; the returned handle points at the
// pending one.
func (q *Queue) Enqueue(task Task) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("queue shut down, rejecting task",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return nil, ErrQueueClosed
	}

	if dedup := task.DedupKey(); dedup != "" {
		for _, ts := range q.pending {
			if ts.Task.DedupKey() == dedup {
				ts.addCoalesced()
				q.logger.Debug("task coalesced into pending task",
					zap.String("task_name", task.Name()),
					zap.String("pending_task_id", ts.Task.ID()))
				return &Handle{ID: ts.Task.ID(), Coalesced: true, state: ts}, nil
			}
		}
	}

	if len(q.pending) == 0 && len(q.running) == 0 {
		q.idle = make(chan struct{})
	}

	state := NewTaskState(task, q.now())
	q.pending = append(q.pending, state)

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.String("key", task.Key()))

	q.tryStartTasksLocked()
	return &Handle{ID: task.ID(), state: state}, nil
}

// tryStartTasksLocked starts pending tasks in FIFO order as the strategy allows.
// A task blocked by its key does not block later tasks with other keys.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.closed {
		return
	}

	remaining := q.pending[:0]
	for _, ts := range q.pending {
		key := ts.Task.Key()
		if !q.strategy.CanStart(key) {
			remaining = append(remaining, ts)
			continue
		}

		q.strategy.OnStart(key)
		ts.SetStatus(TaskStatusRunning, q.now())
		q.running[ts.Task.ID()] = ts

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
	for i := len(remaining); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = remaining
}

// runTask executes a task, retrying errors that retry.IsRetryable accepts.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	cfg := &retry.Config{
		MaxRetries:   q.retryConfig.MaxRetries,
		InitialDelay: q.retryConfig.InitialBackoff,
		MaxDelay:     q.retryConfig.MaxBackoff,
		Multiplier:   q.retryConfig.BackoffFactor,
		JitterFactor: 0.1,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			ts.IncrementRetryCount()
			q.logger.Warn("retryable error, retrying task after backoff",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", q.retryConfig.MaxRetries),
				zap.Duration("backoff", delay),
				zap.Error(err))
		},
	}

	err := retry.DoIfRetryable(q.ctx, cfg, func() error {
		return q.execute(ts)
	})
	q.complete(ts, err)
}

// execute runs the task once and converts a panic into an error.
func (q *Queue) execute(ts *TaskState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = &panicError{value: r}
		}
	}()
	return ts.Task.Execute(q.ctx)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.value)
}

// IsRetryable keeps panics out of the retry loop.
func (e *panicError) IsRetryable() bool {
	return false
}

// complete records the outcome, retires the task and starts the next ones.
func (q *Queue) complete(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(ts.Task.Key())
	delete(q.running, ts.Task.ID())

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted, q.now())
		q.logger.Info("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()))
	case errors.Is(err, context.Canceled) && q.ctx.Err() != nil:
		ts.SetStatus(TaskStatusCancelled, q.now())
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetError(err)
		ts.SetStatus(TaskStatusFailed, q.now())
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()),
			zap.Error(err))
	}

	q.retireLocked(ts)
	q.tryStartTasksLocked()
	q.signalIdleLocked()
}

// retireLocked moves a terminal task into the bounded history.
// Must be called with lock held.
func (q *Queue) retireLocked(ts *TaskState) {
	if q.retainedTasks == 0 {
		return
	}
	q.finished = append(q.finished, ts)
	if over := len(q.finished) - q.retainedTasks; over > 0 {
		clear(q.finished[:over])
		q.finished = q.finished[over:]
	}
}

// signalIdleLocked closes the idle channel once nothing is left to do.
// Must be called with lock held.
func (q *Queue) signalIdleLocked() {
	if len(q.pending) > 0 || len(q.running) > 0 {
		return
	}
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// GetTasks returns snapshots of finished tasks (oldest first), then running
// tasks, then pending tasks in queue order.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, 0, len(q.finished)+len(q.running)+len(q.pending))
	for _, ts := range q.finished {
		snapshots = append(snapshots, ts.Snapshot())
	}
	for _, ts := range q.running {
		snapshots = append(snapshots, ts.Snapshot())
	}
	for _, ts := range q.pending {
		snapshots = append(snapshots, ts.Snapshot())
	}
	return snapshots
}

// TasksForKey is GetTasks filtered to one key.
func (q *Queue) TasksForKey(key string) []TaskSnapshot {
	all := q.GetTasks()
	out := make([]TaskSnapshot, 0, len(all))
	for _, s := range all {
		if s.Key == key {
			out = append(out, s)
		}
	}
	return out
}

// Wait blocks until the queue has no pending or running tasks, or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks, cancels pending ones, signals running tasks
// to stop and waits for them until ctx ends.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.logger.Info("queue shutting down, signaling running tasks to stop",
			zap.Int("running", len(q.running)),
			zap.Int("pending", len(q.pending)))

		q.cancel()
		for _, ts := range q.pending {
			ts.SetStatus(TaskStatusCancelled, q.now())
			q.retireLocked(ts)
		}
		q.pending = nil
		q.signalIdleLocked()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns counts of the tasks the queue currently knows about.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{
		Pending: len(q.pending),
		Running: len(q.running),
	}
	for _, ts := range q.finished {
		switch ts.GetStatus() {
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	p.Total = p.Pending + p.Running + p.Completed + p.Failed + p.Cancelled
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}
