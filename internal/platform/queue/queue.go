// Package queue provides the job queue and task status store backing the
// asynchronous batch pipeline. Two implementations exist: a channel-backed
// in-memory pair for single-process deployments and tests, and a Redis pair
// for running the API server and workers as separate processes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrTaskNotFound = errors.New("task not found")

// Job is a unit of work handed to a batch worker. ArtifactKey names the CSV
// artifact in the blob store.
type Job struct {
	TaskID      string    `json:"task_id"`
	ArtifactKey string    `json:"artifact_key"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// TaskState is the lifecycle state of an ingestion task.
type TaskState string

const (
	StateQueued    TaskState = "queued"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
)

// TaskStatus records where a task is in its lifecycle. Result carries the
// batch outcome as raw JSON once the task completes.
type TaskStatus struct {
	TaskID    string          `json:"task_id"`
	State     TaskState       `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Queue delivers jobs to workers. Dequeue blocks until a job is available or
// the context is cancelled.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (*Job, error)
}

// StatusStore persists task statuses for the status endpoint.
type StatusStore interface {
	Set(ctx context.Context, status TaskStatus) error
	Get(ctx context.Context, taskID string) (*TaskStatus, error)
}

// MemoryQueue is a channel-backed Queue for single-process deployments.
type MemoryQueue struct {
	jobs chan Job
}

// NewMemoryQueue returns a MemoryQueue with the given buffer size.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 128
	}
	return &MemoryQueue{jobs: make(chan Job, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case job := <-q.jobs:
		return &job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MemoryStatusStore is a map-backed StatusStore.
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]TaskStatus
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]TaskStatus)}
}

func (s *MemoryStatusStore) Set(_ context.Context, status TaskStatus) error {
	s.mu.Lock()
	s.statuses[status.TaskID] = status
	s.mu.Unlock()
	return nil
}

func (s *MemoryStatusStore) Get(_ context.Context, taskID string) (*TaskStatus, error) {
	s.mu.RLock()
	status, ok := s.statuses[taskID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrTaskNotFound
	}
	return &status, nil
}
