package delivery

import (
	"bytes"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/user/killtracker/internal/types"
)

// Buffer is the ordered set of undelivered kill results. Entries are unique
// by content; the head is the oldest.
type Buffer struct {
	mu      sync.Mutex
	entries []types.BufferEntry
	keys    [][]byte
}

func NewBuffer(entries []types.BufferEntry) *Buffer {
	b := &Buffer{}
	for _, e := range entries {
		b.Add(e)
	}
	return b
}

// Add appends e unless an identical entry is already buffered.
func (b *Buffer) Add(e types.BufferEntry) bool {
	key, err := json.Marshal(e)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range b.keys {
		if bytes.Equal(k, key) {
			return false
		}
	}
	b.entries = append(b.entries, e)
	b.keys = append(b.keys, key)
	return true
}

func (b *Buffer) Head() (types.BufferEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return types.BufferEntry{}, false
	}
	return b.entries[0], true
}

// PopHead removes the head only if it still equals e, so a concurrent
// flush cannot drop a different entry.
func (b *Buffer) PopHead(e types.BufferEntry) bool {
	key, err := json.Marshal(e)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.keys) == 0 || !bytes.Equal(b.keys[0], key) {
		return false
	}
	b.entries = b.entries[1:]
	b.keys = b.keys[1:]
	return true
}

// Remove drops the entry equal to e wherever it sits.
func (b *Buffer) Remove(e types.BufferEntry) bool {
	key, err := json.Marshal(e)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, k := range b.keys {
		if bytes.Equal(k, key) {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Buffer) Snapshot() []types.BufferEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.BufferEntry{}, b.entries...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
