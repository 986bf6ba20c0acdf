// Package scheduler implements the Distributed Scheduler: a persistent
// queue of jobs keyed by execution_id, with atomic claim/ack semantics
// and dead-worker recovery, per the at-least-once delivery contract.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dshills/daer/emit"
)

// ErrNoWork is returned by Claim when the pending list is empty.
var ErrNoWork = errors.New("scheduler: no work available")

// Job is one unit of schedulable work: driving one execution_id's
// Engine.Run/Resume to completion. Attempt counts how many times this
// job has been requeued — 0 for a fresh job, incremented by Recover
// when a worker's heartbeat expires with the job still in-flight.
type Job struct {
	ID          string
	ExecutionID string
	Attempt     int
	EnqueuedAt  time.Time
}

// Queue is the Distributed Scheduler's storage contract. Implementations
// must make Claim an atomic "pop pending, push worker-inflight" move —
// a job must never be visible in neither list nor both at once, so zero
// jobs are lost even if a worker is killed mid-claim.
type Queue interface {
	// Enqueue atomically pushes job onto the pending list.
	Enqueue(ctx context.Context, job Job) error

	// Claim atomically moves one job from pending to workerID's
	// in-flight list. Returns ErrNoWork if pending is empty.
	Claim(ctx context.Context, workerID string) (Job, error)

	// Ack removes jobID from workerID's in-flight list.
	Ack(ctx context.Context, workerID, jobID string) error

	// Heartbeat refreshes workerID's liveness key.
	Heartbeat(ctx context.Context, workerID string) error

	// Recover requeues every job in the in-flight list of any worker
	// whose heartbeat age exceeds the configured worker_timeout,
	// incrementing Attempt on each, and returns the recovered jobs (for
	// RETRY_ATTEMPTED observability).
	Recover(ctx context.Context) ([]Job, error)
}

// MemQueue is an in-memory Queue for single-process hosts, tests, and
// the DAG executor's local worker pool.
type MemQueue struct {
	workerTimeout time.Duration
	metrics       *emit.Metrics

	mu        sync.Mutex
	pending   []Job
	inflight  map[string][]Job // workerID -> jobs
	heartbeat map[string]time.Time
}

// NewMemQueue creates an empty in-memory queue. A worker whose
// heartbeat goes silent for longer than workerTimeout has its in-flight
// jobs recovered back to pending on the next Recover call.
func NewMemQueue(workerTimeout time.Duration) *MemQueue {
	return &MemQueue{
		workerTimeout: workerTimeout,
		inflight:      make(map[string][]Job),
		heartbeat:     make(map[string]time.Time),
	}
}

// SetMetrics attaches a Metrics collector so queue depth, in-flight
// count, and recovered-job retries are reported as they change.
func (q *MemQueue) SetMetrics(m *emit.Metrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// reportGaugesLocked refreshes the scheduler_queue_depth/scheduler_inflight
// gauges. Callers must already hold q.mu.
func (q *MemQueue) reportGaugesLocked() {
	inflightTotal := 0
	for _, jobs := range q.inflight {
		inflightTotal += len(jobs)
	}
	q.metrics.SetSchedulerQueueDepth(len(q.pending))
	q.metrics.SetSchedulerInflight(inflightTotal)
}

// Enqueue implements Queue.
func (q *MemQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	q.pending = append(q.pending, job)
	q.reportGaugesLocked()
	return nil
}

// Claim implements Queue.
func (q *MemQueue) Claim(_ context.Context, workerID string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Job{}, ErrNoWork
	}

	job := q.pending[0]
	q.pending = q.pending[1:]
	q.inflight[workerID] = append(q.inflight[workerID], job)
	q.heartbeat[workerID] = time.Now().UTC()
	q.reportGaugesLocked()
	return job, nil
}

// Ack implements Queue.
func (q *MemQueue) Ack(_ context.Context, workerID, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := q.inflight[workerID]
	for i, j := range jobs {
		if j.ID == jobID {
			q.inflight[workerID] = append(jobs[:i], jobs[i+1:]...)
			q.reportGaugesLocked()
			return nil
		}
	}
	return nil
}

// Heartbeat implements Queue.
func (q *MemQueue) Heartbeat(_ context.Context, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heartbeat[workerID] = time.Now().UTC()
	return nil
}

// Recover implements Queue.
func (q *MemQueue) Recover(_ context.Context) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	var recovered []Job
	for workerID, last := range q.heartbeat {
		if now.Sub(last) <= q.workerTimeout {
			continue
		}
		for _, job := range q.inflight[workerID] {
			job.Attempt++
			q.pending = append(q.pending, job)
			recovered = append(recovered, job)
			q.metrics.IncRetry("worker_timeout")
		}
		delete(q.inflight, workerID)
		delete(q.heartbeat, workerID)
	}
	q.reportGaugesLocked()
	return recovered, nil
}
