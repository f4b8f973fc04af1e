package state

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/user/killtracker/internal/types"
)

// EventLog is a JSONL-backed append-only activity log. Events are stored
// per monitoring session in sessions/<sessionID>/events.jsonl.
type EventLog struct {
	root string
	mu   sync.Mutex
	seqs map[types.SessionID]int64
}

func NewEventLog(root string) *EventLog {
	return &EventLog{
		root: root,
		seqs: make(map[types.SessionID]int64),
	}
}

func (e *EventLog) eventsPath(sessionID types.SessionID) string {
	return filepath.Join(e.root, "sessions", string(sessionID), "events.jsonl")
}

// countLines counts the events on disk. Caller must hold e.mu.
func (e *EventLog) countLines(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return n, nil
}

// seq returns the last sequence number of a session, loading it from disk
// on first use. Caller must hold e.mu.
func (e *EventLog) seq(sessionID types.SessionID) (int64, error) {
	if n, ok := e.seqs[sessionID]; ok {
		return n, nil
	}
	n, err := e.countLines(sessionID)
	if err != nil {
		return 0, err
	}
	e.seqs[sessionID] = n
	return n, nil
}

// Append assigns the next sequence number and writes the event.
func (e *EventLog) Append(_ context.Context, event *types.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	path := e.eventsPath(event.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	last, err := e.seq(event.SessionID)
	if err != nil {
		return err
	}
	event.Seq = last + 1

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	e.seqs[event.SessionID] = event.Seq
	return nil
}

// Record is a convenience wrapper marshaling payload into a new event.
func (e *EventLog) Record(ctx context.Context, sessionID types.SessionID, typ, source string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return e.Append(ctx, &types.Event{SessionID: sessionID, Type: typ, Source: source, Payload: data})
}

// Tail returns the last limit events of a session, oldest first.
func (e *EventLog) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (e *EventLog) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq(sessionID)
}
