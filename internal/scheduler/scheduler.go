// Package scheduler runs periodic maintenance jobs, such as resending
// buffered kills, on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is a named periodic task. Gate, when set, is checked on every fire
// and the run is skipped while it returns false.
type Job struct {
	Name     string
	Schedule string
	Gate     func() bool
	Run      func(ctx context.Context) error
}

// Scheduler fires registered jobs through robfig/cron. A job still running
// when its next fire arrives is skipped for that fire.
type Scheduler struct {
	mu   sync.Mutex
	jobs []Job
	cron *cron.Cron
	ctx  context.Context
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus @every descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func New() *Scheduler {
	return &Scheduler{ctx: context.Background()}
}

// Add registers a job. Jobs added after Start take effect on Reload.
func (s *Scheduler) Add(job Job) error {
	if _, err := cronParser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", job.Schedule, job.Name, err)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Every registers a job firing at a fixed interval given in seconds.
func (s *Scheduler) Every(name string, seconds int, gate func() bool, run func(ctx context.Context) error) error {
	return s.Add(Job{Name: name, Schedule: fmt.Sprintf("@every %ds", seconds), Gate: gate, Run: run})
}

// Start registers all jobs as cron entries and starts the cron ticker.
// Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	for _, job := range s.jobs {
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.fire(job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(job Job) {
	if job.Gate != nil && !job.Gate() {
		return
	}
	if err := s.ctx.Err(); err != nil {
		return
	}
	slog.Debug("cron firing job", "name", job.Name)
	if err := job.Run(s.ctx); err != nil {
		slog.Warn("scheduled job failed", "name", job.Name, "error", err)
	}
}

// Reload stops the existing cron and starts a fresh one with the current
// job list.
func (s *Scheduler) Reload() error {
	s.Stop()
	return s.Start(s.ctx)
}

// Stop stops the cron ticker and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}
