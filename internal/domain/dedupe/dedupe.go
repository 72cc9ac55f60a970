// Package dedupe remembers which sessions were already folded into the
// leaderboard so repeat reconcile triggers can return early.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Deduper records seen ids. It is an in-process fast path; the durable
// marker lives in the repository.
type Deduper interface {
	// SeenAndRecord reports whether id was already recorded, recording it if not.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed reconcile can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// ringDeduper keeps at most maxSize ids and evicts the oldest first.
// A maxSize <= 0 keeps every id.
type ringDeduper struct {
	mu      sync.Mutex
	slots   map[string]int // id -> ring index, -1 when unbounded
	ring    []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &ringDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.slots = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *ringDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.slots[id]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.slots[id] = -1
		return false
	}

	// Evict whatever occupies the slot, unless it was unrecorded or re-slotted.
	if old := d.ring[d.next]; old != "" {
		if idx, ok := d.slots[old]; ok && idx == d.next {
			delete(d.slots, old)
		}
	}
	d.ring[d.next] = id
	d.slots[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

func (d *ringDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, ok := d.slots[id]
	if !ok {
		return
	}
	delete(d.slots, id)
	if idx >= 0 {
		d.ring[idx] = ""
	}
}

func (d *ringDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.slots))
}
