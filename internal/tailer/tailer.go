// Package tailer follows an append-only log file line by line, surviving
// truncation and rotation of the file.
package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultPoll     = time.Second
	defaultGateWait = 5 * time.Second
	readChunk       = 64 * 1024
)

// Tailer reads complete lines from a file, remembering its offset between
// reads. A Tailer is used by a single goroutine.
type Tailer struct {
	path     string
	poll     time.Duration
	gateWait time.Duration

	f       *os.File
	offset  int64
	partial []byte
}

type Option func(*Tailer)

// WithPollInterval sets how often Follow checks the file for new bytes.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithGateWait sets how long Follow sleeps while its gate is closed.
func WithGateWait(d time.Duration) Option {
	return func(t *Tailer) {
		if d > 0 {
			t.gateWait = d
		}
	}
}

// Open opens path for tailing from its beginning.
func Open(path string, opts ...Option) (*Tailer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	t := &Tailer{path: path, poll: defaultPoll, gateWait: defaultGateWait, f: f}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tailer) Path() string { return t.path }

// Offset returns the number of bytes consumed so far, including any held
// partial line.
func (t *Tailer) Offset() int64 { return t.offset }

// ReadBacklog returns every complete line up to the current end of file.
func (t *Tailer) ReadBacklog() ([]string, error) {
	return t.readAvailable()
}

// Follow delivers new lines to fn in file order until ctx is cancelled.
// While gate returns false no lines are consumed, so they are delivered once
// the gate opens. I/O errors are logged and retried on the next tick.
func (t *Tailer) Follow(ctx context.Context, gate func() bool, fn func(line string)) error {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if w, err := t.watch(); err != nil {
		slog.Warn("log watcher unavailable, polling only", "path", t.path, "error", err)
	} else {
		defer w.Close()
		events = w.Events
		watchErrs = w.Errors
	}

	for {
		if gate != nil && !gate() {
			slog.Info("no active key, waiting before reading log", "wait", t.gateWait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.gateWait):
			}
			continue
		}

		lines, err := t.readAvailable()
		if err != nil {
			slog.Error("read log", "path", t.path, "error", err)
		}
		for _, line := range lines {
			fn(line)
		}
		if len(lines) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
			} else if filepath.Base(ev.Name) != filepath.Base(t.path) {
				continue
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
			} else {
				slog.Debug("log watcher error", "error", err)
			}
		}
	}
}

func (t *Tailer) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(t.path)); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// readAvailable reads to end of file and splits the bytes into complete
// lines. When nothing new is available and the file has shrunk below the
// offset it is reopened and read from the start.
func (t *Tailer) readAvailable() ([]string, error) {
	if t.f == nil {
		if err := t.reopen(); err != nil {
			return nil, err
		}
	}

	n, err := t.readToEOF()
	if err != nil {
		return t.drainLines(), err
	}
	if n == 0 {
		rotated, err := t.checkRotation()
		if err != nil {
			return nil, err
		}
		if rotated {
			if _, err := t.readToEOF(); err != nil {
				return t.drainLines(), err
			}
		}
	}
	return t.drainLines(), nil
}

func (t *Tailer) readToEOF() (int, error) {
	if _, err := t.f.Seek(t.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek: %w", err)
	}
	total := 0
	buf := make([]byte, readChunk)
	for {
		n, err := t.f.Read(buf)
		if n > 0 {
			t.partial = append(t.partial, buf[:n]...)
			t.offset += int64(n)
			total += n
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read: %w", err)
		}
	}
}

func (t *Tailer) checkRotation() (bool, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		return false, fmt.Errorf("stat log: %w", err)
	}
	if info.Size() >= t.offset {
		return false, nil
	}
	slog.Info("log file rotated, reopening", "path", t.path, "size", info.Size(), "offset", t.offset)
	if err := t.reopen(); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tailer) reopen() error {
	if t.f != nil {
		t.f.Close()
		t.f = nil
	}
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("reopen log: %w", err)
	}
	t.f = f
	t.offset = 0
	t.partial = nil
	return nil
}

func (t *Tailer) drainLines() []string {
	var lines []string
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(t.partial[:i]), "\r"))
		t.partial = t.partial[i+1:]
	}
	if len(t.partial) == 0 {
		t.partial = nil
	}
	return lines
}

func (t *Tailer) Close() error {
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}
