// Package delivery posts kill results to the collector and keeps every
// failed post in a durable, de-duplicated buffer until a later resend
// succeeds.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/user/killtracker/internal/types"
)

// ErrNoCredential is returned when a post is attempted without a key.
var ErrNoCredential = errors.New("no credential for delivery")

// DeliveryError reports a post that failed and was buffered.
type DeliveryError struct {
	Endpoint string
	Buffered bool
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Endpoint, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Poster sends one kill payload to a collector endpoint.
type Poster interface {
	PostKill(ctx context.Context, key, endpoint string, payload types.KillPayload) error
}

// Credentials supplies the current collector key; empty means none.
type Credentials interface {
	Key() string
}

// Persister stores the buffer contents.
type Persister interface {
	SaveBuffer(entries []types.BufferEntry) error
}

type Engine struct {
	poster  Poster
	creds   Credentials
	persist Persister
	buf     *Buffer

	healthy atomic.Bool
	// resendMu serializes resends and buffer persists.
	resendMu sync.Mutex
}

// NewEngine creates an Engine over an existing buffer. persist may be nil
// when no identity is known yet; SetPersister attaches it later.
func NewEngine(poster Poster, creds Credentials, buf *Buffer, persist Persister) *Engine {
	if buf == nil {
		buf = NewBuffer(nil)
	}
	return &Engine{poster: poster, creds: creds, buf: buf, persist: persist}
}

func (e *Engine) Buffer() *Buffer { return e.buf }

func (e *Engine) Healthy() bool { return e.healthy.Load() }

// SetHealthy overrides the connection state, e.g. after a key is validated.
func (e *Engine) SetHealthy(v bool) { e.healthy.Store(v) }

// SetPersister attaches a persister and writes the current buffer to it.
func (e *Engine) SetPersister(p Persister) error {
	e.resendMu.Lock()
	e.persist = p
	e.resendMu.Unlock()
	return e.save()
}

// PostEvent sends result to endpoint. On any failure the entry is buffered
// and persisted, and a *DeliveryError is returned. A success also clears an
// identical buffered entry.
func (e *Engine) PostEvent(ctx context.Context, result types.KillResult, endpoint string) error {
	key := e.creds.Key()
	var err error
	if key == "" {
		err = ErrNoCredential
	} else {
		err = e.poster.PostKill(ctx, key, endpoint, result.Data)
	}
	entry := types.BufferEntry{KillResult: result, Endpoint: endpoint}
	if err == nil {
		e.healthy.Store(true)
		slog.Info("kill posted", "endpoint", endpoint, "result", result.Result, "victim", result.Data.Victim)
		// A buffered copy of the same result is now delivered.
		if e.buf.Remove(entry) {
			if perr := e.save(); perr != nil {
				slog.Error("persist buffer", "error", perr)
			}
		}
		return nil
	}

	e.healthy.Store(false)
	added := e.buf.Add(entry)
	if added {
		if perr := e.save(); perr != nil {
			slog.Error("persist buffer", "error", perr)
		}
	}
	slog.Warn("kill buffered", "endpoint", endpoint, "buffered", added, "pending", e.buf.Len(), "error", err)
	return &DeliveryError{Endpoint: endpoint, Buffered: added, Err: err}
}

// ResendOnce posts the buffer head if there is one, a key is present and
// the connection is healthy. Only the head is attempted per call.
func (e *Engine) ResendOnce(ctx context.Context) (bool, error) {
	e.resendMu.Lock()
	defer e.resendMu.Unlock()

	head, ok := e.buf.Head()
	if !ok {
		return false, nil
	}
	if err := e.saveLocked(); err != nil {
		slog.Error("persist buffer", "error", err)
	}
	key := e.creds.Key()
	if key == "" || !e.healthy.Load() {
		return false, nil
	}
	if err := e.poster.PostKill(ctx, key, head.Endpoint, head.KillResult.Data); err != nil {
		e.healthy.Store(false)
		return false, fmt.Errorf("resend to %s: %w", head.Endpoint, err)
	}
	e.buf.PopHead(head)
	slog.Info("buffered kill delivered", "endpoint", head.Endpoint, "pending", e.buf.Len())
	return true, e.saveLocked()
}

// Flush resends entries until the buffer is empty or a post fails. The
// connection is assumed healthy for the first attempt.
func (e *Engine) Flush(ctx context.Context) (int, error) {
	e.healthy.Store(true)
	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		ok, err := e.ResendOnce(ctx)
		if err != nil || !ok {
			return sent, err
		}
		sent++
	}
}

// Close performs the final persist.
func (e *Engine) Close() error {
	return e.save()
}

func (e *Engine) save() error {
	e.resendMu.Lock()
	defer e.resendMu.Unlock()
	return e.saveLocked()
}

func (e *Engine) saveLocked() error {
	if e.persist == nil {
		return nil
	}
	return e.persist.SaveBuffer(e.buf.Snapshot())
}
