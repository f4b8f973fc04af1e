package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrQueueClosed is returned by Enqueue after Stop.
var ErrQueueClosed = errors.New("queue closed")

const laneCapacity = 256

// Queue manages per-lane FIFO channels with a global concurrency semaphore.
// Jobs within a lane run sequentially; the semaphore bounds the number of
// jobs in flight across all lanes.
type Queue struct {
	lanes     map[string]chan *Job
	semaphore *semaphore.Weighted
	processor func(*Job) error
	// pending counts jobs accepted by Enqueue and not yet finished.
	pending atomic.Int64
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[string]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop closes all lanes and waits for queued jobs to drain, then cancels
// the queue context. Jobs still queued when the parent context is done
// run with that cancelled context.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
	if q.cancel != nil {
		q.cancel()
	}
}

// Enqueue adds a Job to its lane, creating the lane and its goroutine on
// first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	lane, exists := q.lanes[job.Lane]
	if !exists {
		lane = make(chan *Job, laneCapacity)
		q.lanes[job.Lane] = lane
		q.wg.Add(1)
		go q.processLane(job.Lane, lane)
	}

	q.pending.Add(1)
	select {
	case lane <- job:
		return nil
	default:
		q.pending.Add(-1)
		return fmt.Errorf("queue full for lane %s", job.Lane)
	}
}

// processLane drains one lane until it is closed. Every queued job is
// handed to the processor so nothing accepted by Enqueue is dropped.
func (q *Queue) processLane(name string, lane chan *Job) {
	defer q.wg.Done()
	for job := range lane {
		if err := q.semaphore.Acquire(context.Background(), 1); err != nil {
			return
		}
		if q.processor != nil {
			job.Ctx = q.ctx
			job.Status = JobRunning
			if err := q.processor(job); err != nil {
				job.Err = err
				slog.Warn("job failed", "job_id", string(job.ID), "lane", name, "error", err)
			}
			if job.OnDone != nil {
				job.OnDone(job)
			}
		}
		q.semaphore.Release(1)
		q.pending.Add(-1)
	}
}

// Pending returns the number of jobs queued or running.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// WaitIdle blocks until no jobs are queued or running, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Job.
func (q *Queue) SetProcessor(fn func(*Job) error) {
	q.processor = fn
}
