package gateway

import (
	"context"
	"time"

	"github.com/user/killtracker/internal/types"
)

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobDelivered JobStatus = "delivered"
	JobBuffered  JobStatus = "buffered"
)

// Lane names. Kill results are routed to the lane of their endpoint so
// posts for one endpoint leave in file order.
const LaneNotify = "notify"

// Job is one outbound unit of work: a kill result bound for an endpoint,
// or a notification message.
type Job struct {
	ID        types.EventID
	Lane      string
	Endpoint  string
	Result    types.KillResult
	Message   string
	Status    JobStatus
	Attempts  int
	CreatedAt time.Time
	Err       error
	Ctx       context.Context
	OnDone    func(*Job)
}

// NewDeliveryJob creates a queued Job posting result to endpoint.
func NewDeliveryJob(result types.KillResult, endpoint string) *Job {
	return &Job{
		ID:        types.NewEventID(),
		Lane:      endpoint,
		Endpoint:  endpoint,
		Result:    result,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
}

func NewNotifyJob(message string) *Job {
	return &Job{
		ID:        types.NewEventID(),
		Lane:      LaneNotify,
		Message:   message,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
}
