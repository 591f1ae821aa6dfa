package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
)

// Queue delivers jobs to the worker pool and exposes their status to
// the producer. The in-memory implementation below is the
// single-process default; a distributed deployment swaps in a shared
// queue behind the same interface.
type Queue interface {
	Enqueue(job *model.Job) (uuid.UUID, error)
	Dequeue(ctx context.Context) (*model.Job, error)
	Status(jobID uuid.UUID) (*model.JobStatus, error)
	Complete(jobID uuid.UUID, result *model.JobResult)
	Fail(jobID uuid.UUID, reason string)
	Close()
}

// MemoryQueue is a channel-backed in-process job queue
type MemoryQueue struct {
	jobs chan *model.Job

	mu       sync.Mutex
	statuses map[uuid.UUID]*model.JobStatus
	closed   bool
}

// NewMemoryQueue creates an in-memory queue with the given capacity
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryQueue{
		jobs:     make(chan *model.Job, capacity),
		statuses: make(map[uuid.UUID]*model.JobStatus),
	}
}

// Enqueue adds a job to the queue in state waiting. A zero job ID is
// assigned; the returned ID tracks the job through its status.
func (q *MemoryQueue) Enqueue(job *model.Job) (uuid.UUID, error) {
	if job == nil {
		return uuid.Nil, helper.NewError("enqueue", fmt.Errorf("job is nil"))
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.EnqueuedAt = time.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return uuid.Nil, helper.NewError("enqueue", fmt.Errorf("queue is closed"))
	}
	q.statuses[job.ID] = &model.JobStatus{
		JobID:    job.ID,
		State:    model.JobStateWaiting,
		Position: len(q.jobs) + 1,
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return job.ID, nil
	default:
		q.mu.Lock()
		q.statuses[job.ID].State = model.JobStateDelayed
		q.mu.Unlock()
		return job.ID, helper.NewError("enqueue", fmt.Errorf("queue is full"))
	}
}

// Dequeue blocks until a job is available or ctx is done. The returned
// job is moved to state active.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*model.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return nil, helper.NewError("dequeue", fmt.Errorf("queue is closed"))
		}
		q.mu.Lock()
		if status, tracked := q.statuses[job.ID]; tracked {
			status.State = model.JobStateActive
			status.Position = 0
		}
		q.mu.Unlock()
		return job, nil
	}
}

// Status returns the current status of a job
func (q *MemoryQueue) Status(jobID uuid.UUID) (*model.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	status, ok := q.statuses[jobID]
	if !ok {
		return nil, helper.NewError("status", fmt.Errorf("unknown job %s", jobID))
	}
	copied := *status
	return &copied, nil
}

// Complete marks a job completed with its result
func (q *MemoryQueue) Complete(jobID uuid.UUID, result *model.JobResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if status, ok := q.statuses[jobID]; ok {
		status.State = model.JobStateCompleted
		status.Progress = 100
		status.Result = result
	}
}

// Fail marks a job failed with a human-readable reason
func (q *MemoryQueue) Fail(jobID uuid.UUID, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if status, ok := q.statuses[jobID]; ok {
		status.State = model.JobStateFailed
		status.FailedReason = reason
	}
}

// Close stops the queue; pending jobs are still delivered
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
