// Package logs merges incrementally fetched log batches into an ordered,
// deduplicated per-session buffer.
package logs

import (
	"slices"
	"sync"

	"github.com/agent-racer/preview/internal/session"
)

// Merge returns existing followed by the entries of incoming whose IDs are
// not yet present, in the order received. Entries already present are
// left untouched and repeated IDs inside incoming keep their first
// occurrence. existing is never modified.
func Merge(existing, incoming []session.LogEntry) []session.LogEntry {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, e := range existing {
		seen[e.ID] = struct{}{}
	}
	added := fresh(seen, incoming)
	if len(added) == 0 {
		return existing
	}
	return append(slices.Clip(existing), added...)
}

// Watermark is the ID of the last entry, or "" for an empty buffer. It is
// the "since" cursor of the next fetch.
func Watermark(entries []session.LogEntry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].ID
}

func fresh(seen map[string]struct{}, incoming []session.LogEntry) []session.LogEntry {
	var added []session.LogEntry
	for _, e := range incoming {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		added = append(added, e)
	}
	return added
}

// Buffer is an append-only log buffer that keeps its ID index between
// merges, so each merge costs O(len(batch)).
type Buffer struct {
	mu      sync.RWMutex
	entries []session.LogEntry
	index   map[string]struct{}
}

// NewBuffer seeds a buffer with already known entries.
func NewBuffer(initial []session.LogEntry) *Buffer {
	b := &Buffer{index: make(map[string]struct{}, len(initial))}
	b.entries = fresh(b.index, initial)
	return b
}

// Merge appends the unseen entries of batch and returns them.
func (b *Buffer) Merge(batch []session.LogEntry) []session.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	added := fresh(b.index, batch)
	b.entries = append(b.entries, added...)
	return added
}

// Entries returns a copy of the buffer.
func (b *Buffer) Entries() []session.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.entries)
}

// Tail returns a copy of the last n entries. n <= 0 returns nil.
func (b *Buffer) Tail(n int) []session.LogEntry {
	if n <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n >= len(b.entries) {
		return slices.Clone(b.entries)
	}
	return slices.Clone(b.entries[len(b.entries)-n:])
}

func (b *Buffer) Watermark() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Watermark(b.entries)
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
