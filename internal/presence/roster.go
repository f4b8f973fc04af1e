package presence

import (
	"slices"
	"strings"
	"sync"

	"github.com/user/killtracker/internal/types"
)

// Roster holds the connected participants reported by the collector and
// the subset the local commander has allocated.
type Roster struct {
	mu        sync.RWMutex
	connected []types.RosterEntry
	allocated []types.RosterEntry
}

func NewRoster() *Roster { return &Roster{} }

// Refresh replaces the connected set with entries, deduplicated and sorted
// by player. Allocated entries no longer connected are dropped; the rest
// take the latest zone and status.
func (r *Roster) Refresh(entries []types.RosterEntry) {
	connected := make([]types.RosterEntry, 0, len(entries))
	for _, e := range entries {
		if !slices.Contains(connected, e) {
			connected = append(connected, e)
		}
	}
	slices.SortStableFunc(connected, func(a, b types.RosterEntry) int {
		return strings.Compare(a.Player, b.Player)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
	kept := r.allocated[:0]
	for _, a := range r.allocated {
		if cur, ok := find(connected, a.Player); ok {
			kept = append(kept, cur)
		}
	}
	r.allocated = kept
}

// Allocate adds the named connected players to the allocated set and
// returns how many were added.
func (r *Roster) Allocate(players ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, p := range players {
		cur, ok := find(r.connected, p)
		if !ok {
			continue
		}
		if _, dup := find(r.allocated, p); dup {
			continue
		}
		r.allocated = append(r.allocated, cur)
		added++
	}
	return added
}

func (r *Roster) AllocateAll() int {
	r.mu.RLock()
	names := make([]string, len(r.connected))
	for i, e := range r.connected {
		names[i] = e.Player
	}
	r.mu.RUnlock()
	return r.Allocate(names...)
}

// Release removes the named players from the allocated set.
func (r *Roster) Release(players ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.allocated)
	r.allocated = slices.DeleteFunc(r.allocated, func(e types.RosterEntry) bool {
		return slices.Contains(players, e.Player)
	})
	return before - len(r.allocated)
}

func (r *Roster) Connected() []types.RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.connected)
}

func (r *Roster) Allocated() []types.RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.allocated)
}

func (r *Roster) Clear() {
	r.mu.Lock()
	r.connected = nil
	r.allocated = nil
	r.mu.Unlock()
}

func find(entries []types.RosterEntry, player string) (types.RosterEntry, bool) {
	for _, e := range entries {
		if e.Player == player {
			return e, true
		}
	}
	return types.RosterEntry{}, false
}
