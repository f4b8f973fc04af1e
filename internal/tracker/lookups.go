package tracker

import (
	"slices"
	"strings"
	"sync"

	"github.com/user/killtracker/internal/types"
)

// Lookups holds the collector-provided weapon names and ignored-victim rules.
type Lookups struct {
	mu      sync.RWMutex
	weapons []types.DataEntry
	ignored []types.DataEntry
}

func NewLookups() *Lookups {
	return &Lookups{}
}

// SetWeapons replaces the weapon table and reports whether it changed.
func (l *Lookups) SetWeapons(entries []types.DataEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Equal(l.weapons, entries) {
		return false
	}
	l.weapons = slices.Clone(entries)
	return true
}

// SetIgnoredVictimRules replaces the rule table and reports whether it changed.
func (l *Lookups) SetIgnoredVictimRules(entries []types.DataEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Equal(l.ignored, entries) {
		return false
	}
	l.ignored = slices.Clone(entries)
	return true
}

// Weapon returns the display name of the first entry whose id occurs in raw,
// or raw itself.
func (l *Lookups) Weapon(raw string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.weapons {
		if e.ID != "" && strings.Contains(raw, e.ID) {
			return e.Name
		}
	}
	return raw
}

// IgnoredVictim reports whether line contains any ignored-victim rule value,
// ignoring case.
func (l *Lookups) IgnoredVictim(line string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lower := strings.ToLower(line)
	for _, e := range l.ignored {
		if e.Value != "" && strings.Contains(lower, strings.ToLower(e.Value)) {
			return e.Value, true
		}
	}
	return "", false
}
