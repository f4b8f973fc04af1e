package tracker

import (
	"fmt"
	"sync"
)

// Stats counts kills and deaths for the current monitoring session.
type Stats struct {
	mu        sync.Mutex
	kills     int
	deaths    int
	streak    int
	maxStreak int
}

type StatsSnapshot struct {
	Kills     int    `json:"kills"`
	Deaths    int    `json:"deaths"`
	Streak    int    `json:"streak"`
	MaxStreak int    `json:"max_streak"`
	KD        string `json:"kd"`
}

func (s *Stats) RecordKill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kills++
	s.streak++
	if s.streak > s.maxStreak {
		s.maxStreak = s.streak
	}
}

func (s *Stats) RecordDeath() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deaths++
	s.streak = 0
}

func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kills, s.deaths, s.streak, s.maxStreak = 0, 0, 0, 0
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{Kills: s.kills, Deaths: s.deaths, Streak: s.streak, MaxStreak: s.maxStreak}
	switch {
	case s.kills == 0 && s.deaths == 0:
		snap.KD = "--"
	case s.deaths == 0:
		snap.KD = "∞"
	default:
		snap.KD = fmt.Sprintf("%.2f", float64(s.kills)/float64(s.deaths))
	}
	return snap
}
