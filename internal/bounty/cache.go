package bounty

import (
	"sync"

	"github.com/user/killtracker/internal/types"
)

const recentCapacity = 128

type recentKey struct {
	Type   types.BountyEventType
	Target string
	Line   string
}

// RecentCache is a bounded FIFO set. Once full, adding a key evicts the
// oldest key regardless of how recently it was seen.
type RecentCache struct {
	mu    sync.Mutex
	cap   int
	order []recentKey
	keys  map[recentKey]struct{}
}

func NewRecentCache(capacity int) *RecentCache {
	if capacity <= 0 {
		capacity = recentCapacity
	}
	return &RecentCache{cap: capacity, keys: make(map[recentKey]struct{}, capacity)}
}

// Remember adds the key and reports whether it was new.
func (c *RecentCache) Remember(typ types.BountyEventType, target, line string) bool {
	k := recentKey{Type: typ, Target: target, Line: line}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[k]; ok {
		return false
	}
	c.order = append(c.order, k)
	c.keys[k] = struct{}{}
	for len(c.order) > c.cap {
		delete(c.keys, c.order[0])
		c.order = c.order[1:]
	}
	return true
}

func (c *RecentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
