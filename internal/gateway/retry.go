package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/user/killtracker/internal/collector"
)

// RetryPolicy retries failed notification sends with exponential backoff.
// Collector posts never go through it: a failed post is buffered instead.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy allows 3 attempts starting at 1s, doubling up to 30s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

// Errors from notifier sinks may describe themselves.
type (
	temporary  interface{ Temporary() bool }
	retryAfter interface{ RetryAfter() time.Duration }
)

// ShouldRetry reports whether attempt (1-indexed) may be followed by another.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.MaxAttempts && retryable(err)
}

func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, collector.ErrInvalidated):
		return false
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	}

	var se *collector.StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	// Unclassified failures are most often transport hiccups.
	return true
}

// NextDelay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return min(d, p.MaxDelay)
}

// delayFor honours a delay requested by the remote side when it is longer
// than the backoff.
func (p *RetryPolicy) delayFor(err error, attempt int) time.Duration {
	d := p.NextDelay(attempt)
	var ra retryAfter
	if errors.As(err, &ra) && ra.RetryAfter() > d {
		d = ra.RetryAfter()
	}
	return d
}

// Execute calls fn until it succeeds, the error is permanent, attempts run
// out or ctx is done. The last error is returned.
func (p *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !p.ShouldRetry(err, attempt) {
			return err
		}
		timer := time.NewTimer(p.delayFor(err, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
