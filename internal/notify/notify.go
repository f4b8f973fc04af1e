// Package notify fans human-readable tracker messages out to optional
// sinks and stands in for audio cues.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Multi sends each message to every sink. All sinks are attempted; the
// errors are joined.
type Multi struct {
	sinks []Notifier
}

func NewMulti(sinks ...Notifier) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes messages to the structured log.
type Log struct{}

func (Log) Notify(_ context.Context, message string) error {
	slog.Info("notification", "message", message)
	return nil
}

// Sounds records audio cues as log lines at the configured volume. Muted
// cues are dropped.
type Sounds struct {
	mu     sync.RWMutex
	level  float64
	muted  bool
	played map[string]int
}

func NewSounds(level float64, muted bool) *Sounds {
	return &Sounds{level: level, muted: muted, played: make(map[string]int)}
}

func (s *Sounds) SetVolume(level float64, muted bool) {
	s.mu.Lock()
	s.level, s.muted = level, muted
	s.mu.Unlock()
}

func (s *Sounds) Volume() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level, s.muted
}

func (s *Sounds) Play(name string) {
	s.mu.Lock()
	if s.muted || s.level <= 0 {
		s.mu.Unlock()
		return
	}
	s.played[name]++
	level := s.level
	s.mu.Unlock()
	slog.Debug("sound cue", "name", name, "volume", level)
}

// Played returns how many times the named cue was played.
func (s *Sounds) Played(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.played[name]
}
