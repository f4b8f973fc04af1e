// Package gateway routes classified kill results and notifications to
// their outbound sinks through per-lane FIFO queues with bounded
// concurrency.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/user/killtracker/internal/types"
)

// Deliverer posts a kill result; a failed post has already been buffered
// when it returns an error.
type Deliverer interface {
	PostEvent(ctx context.Context, result types.KillResult, endpoint string) error
}

// Notifier sends a human-readable message to an out-of-band channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type Stats struct {
	Delivered int64 `json:"delivered"`
	Buffered  int64 `json:"buffered"`
	Notified  int64 `json:"notified"`
	Pending   int   `json:"pending"`
}

// Dispatcher turns classified events into outbound jobs.
type Dispatcher struct {
	Queue    *Queue
	deliver  Deliverer
	notifier Notifier
	retry    *RetryPolicy

	delivered atomic.Int64
	buffered  atomic.Int64
	notified  atomic.Int64
}

// New creates a Dispatcher. notifier may be nil. maxConcurrent bounds the
// jobs in flight across lanes and defaults to 2.
func New(deliver Deliverer, notifier Notifier, maxConcurrent ...int64) *Dispatcher {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	d := &Dispatcher{
		Queue:    NewQueue(concurrency),
		deliver:  deliver,
		notifier: notifier,
		retry:    DefaultRetryPolicy(),
	}
	d.Queue.SetProcessor(d.process)
	return d
}

// SetNotifier replaces the notifier. It must be called before Start.
func (d *Dispatcher) SetNotifier(n Notifier) { d.notifier = n }

// SetRetryPolicy replaces the notification retry policy.
func (d *Dispatcher) SetRetryPolicy(p *RetryPolicy) { d.retry = p }

func (d *Dispatcher) Start(ctx context.Context) { d.Queue.Start(ctx) }

// Stop drains every queued job and stops the lanes.
func (d *Dispatcher) Stop() { d.Queue.Stop() }

// Dispatch queues ev for delivery to endpoint. If the queue cannot accept
// it, the post runs inline so the result still reaches the buffer.
func (d *Dispatcher) Dispatch(ctx context.Context, ev types.KillEvent, endpoint string) error {
	return d.DispatchResult(ctx, ev.Result(), endpoint)
}

func (d *Dispatcher) DispatchResult(ctx context.Context, result types.KillResult, endpoint string) error {
	job := NewDeliveryJob(result, endpoint)
	if err := d.Queue.Enqueue(job); err != nil {
		slog.Warn("dispatch inline", "endpoint", endpoint, "reason", err)
		job.Ctx = ctx
		return d.process(job)
	}
	return nil
}

// Notify queues message for the notifier. It is a no-op without one.
func (d *Dispatcher) Notify(message string) error {
	if d.notifier == nil || message == "" {
		return nil
	}
	if err := d.Queue.Enqueue(NewNotifyJob(message)); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Buffered:  d.buffered.Load(),
		Notified:  d.notified.Load(),
		Pending:   d.Queue.Pending(),
	}
}

func (d *Dispatcher) process(job *Job) error {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if job.Lane == LaneNotify {
		err := d.retry.Execute(ctx, func() error {
			job.Attempts++
			return d.notifier.Notify(ctx, job.Message)
		})
		if err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		d.notified.Add(1)
		job.Status = JobDelivered
		return nil
	}

	job.Attempts++
	if err := d.deliver.PostEvent(ctx, job.Result, job.Endpoint); err != nil {
		d.buffered.Add(1)
		job.Status = JobBuffered
		return err
	}
	d.delivered.Add(1)
	job.Status = JobDelivered
	return nil
}
