package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is the interface that all work queue tasks must implement.
type Task interface {
	// ID returns a unique identifier for this task.
	ID() string

	// Name returns a human-readable name for logs and the jobs endpoint.
	Name() string

	// Key groups tasks that must never run concurrently, e.g. a user ID.
	Key() string

	// DedupKey identifies interchangeable tasks. A new task whose DedupKey matches
	// a task that is still pending is folded into it. Empty disables coalescing.
	DedupKey() string

	// Execute runs the task. ctx is cancelled when the queue shuts down.
	Execute(ctx context.Context) error
}

// TaskState holds the runtime state of a task.
type TaskState struct {
	Task        Task
	Status      TaskStatus
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       error
	RetryCount  int
	Coalesced   int

	done chan struct{}
	mu   sync.RWMutex
}

// NewTaskState creates a new TaskState wrapping a task.
func NewTaskState(task Task, now time.Time) *TaskState {
	return &TaskState{
		Task:       task,
		Status:     TaskStatusPending,
		EnqueuedAt: now,
		done:       make(chan struct{}),
	}
}

// GetStatus returns the current status (thread-safe).
func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Status
}

// SetStatus updates the status and timestamps. Reaching a terminal status
// releases everyone waiting on the task.
func (ts *TaskState) SetStatus(status TaskStatus, now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.Status.IsTerminal() {
		return
	}
	ts.Status = status

	switch {
	case status == TaskStatusRunning:
		ts.StartedAt = &now
	case status.IsTerminal():
		ts.CompletedAt = &now
		close(ts.done)
	}
}

// SetError sets the error (thread-safe).
func (ts *TaskState) SetError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Error = err
}

// GetError returns the error (thread-safe).
func (ts *TaskState) GetError() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Error
}

// IncrementRetryCount records one more retry and returns the new count.
func (ts *TaskState) IncrementRetryCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.RetryCount++
	return ts.RetryCount
}

// GetRetryCount returns the number of retries so far.
func (ts *TaskState) GetRetryCount() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.RetryCount
}

func (ts *TaskState) addCoalesced() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Coalesced++
}

// Done is closed when the task reaches a terminal status.
func (ts *TaskState) Done() <-chan struct{} {
	return ts.done
}

// Snapshot returns an immutable copy of the task state.
func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var errMsg string
	if ts.Error != nil {
		errMsg = ts.Error.Error()
	}

	return TaskSnapshot{
		ID:          ts.Task.ID(),
		Name:        ts.Task.Name(),
		Key:         ts.Task.Key(),
		Status:      ts.Status,
		EnqueuedAt:  ts.EnqueuedAt,
		StartedAt:   ts.StartedAt,
		CompletedAt: ts.CompletedAt,
		RetryCount:  ts.RetryCount,
		Coalesced:   ts.Coalesced,
		Error:       errMsg,
	}
}

// TaskSnapshot is an immutable view of task state for serialization.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Key         string     `json:"-"`
	Status      TaskStatus `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count,omitempty"`
	Coalesced   int        `json:"coalesced,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BaseTask provides common task functionality.
// Embed this in concrete task implementations.
type BaseTask struct {
	id       string
	name     string
	key      string
	dedupKey string
}

// NewBaseTask creates a new base task with a fresh ID.
func NewBaseTask(name, key, dedupKey string) BaseTask {
	return BaseTask{
		id:       uuid.New().String(),
		name:     name,
		key:      key,
		dedupKey: dedupKey,
	}
}

// ID returns the task ID.
func (t BaseTask) ID() string {
	return t.id
}

// Name returns the task name.
func (t BaseTask) Name() string {
	return t.name
}

// Key returns the serialization key.
func (t BaseTask) Key() string {
	return t.key
}

// DedupKey returns the coalescing key.
func (t BaseTask) DedupKey() string {
	return t.dedupKey
}
