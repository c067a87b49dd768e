package ingest

import (
	"fmt"
	"sync"
)

// Queue is the shared list of upload items plus the set of claimed ids.
// Every mutation swaps in a new slice, so a snapshot handed out is never
// modified afterwards and may be read without locking.
type Queue struct {
	mu      sync.Mutex
	items   []Item
	claimed map[string]struct{}
	version uint64

	pubMu     sync.Mutex
	published uint64
	listeners []func([]Item)
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{claimed: make(map[string]struct{})}
}

// OnChange registers fn to receive every published snapshot. Snapshots are
// delivered in mutation order; one superseded before delivery is skipped.
// fn must treat the slice as read-only and must not mutate the queue.
func (q *Queue) OnChange(fn func([]Item)) {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Append adds items in a single update
func (q *Queue) Append(items ...Item) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	next := make([]Item, 0, len(q.items)+len(items))
	next = append(next, q.items...)
	next = append(next, items...)
	snap, v := q.commit(next)
	q.mu.Unlock()

	q.publish(snap, v)
}

// Claim selects the first pending, unclaimed item, records the claim and
// marks it uploading in one step. ok is false when nothing is claimable.
func (q *Queue) Claim() (Item, bool) {
	q.mu.Lock()

	idx := -1
	for i, it := range q.items {
		if it.Status != StatusPending {
			continue
		}
		if _, taken := q.claimed[it.ID]; taken {
			continue
		}
		idx = i
		break
	}
	if idx < 0 {
		q.mu.Unlock()
		return Item{}, false
	}

	claimed := q.items[idx]
	claimed.Status = StatusUploading
	claimed.Progress = 0
	claimed.Error = ""
	q.claimed[claimed.ID] = struct{}{}

	snap, v := q.commit(q.replaced(idx, claimed))
	q.mu.Unlock()

	q.publish(snap, v)
	return claimed, true
}

// Update replaces the item with the given id by fn's result. When fn returns
// false the item is left untouched and nothing is published. The replacement
// must be a legal status transition.
func (q *Queue) Update(id string, fn func(Item) (Item, bool)) (Item, error) {
	q.mu.Lock()

	idx := q.indexOf(id)
	if idx < 0 {
		q.mu.Unlock()
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}

	current := q.items[idx]
	next, changed := fn(current)
	if !changed {
		q.mu.Unlock()
		return current, nil
	}

	next.ID = current.ID
	next.File = current.File
	if !current.Status.CanTransitionTo(next.Status) {
		q.mu.Unlock()
		return current, fmt.Errorf("%w: %s → %s for %s", ErrInvalidTransition, current.Status, next.Status, id)
	}

	snap, v := q.commit(q.replaced(idx, next))
	q.mu.Unlock()

	q.publish(snap, v)
	return next, nil
}

// Snapshot returns the current items. The slice must not be modified.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items
}

// Len returns the number of items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// HasClaimable reports whether a pending, unclaimed item exists
func (q *Queue) HasClaimable() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.Status != StatusPending {
			continue
		}
		if _, taken := q.claimed[it.ID]; !taken {
			return true
		}
	}
	return false
}

// Drain removes the listed items that are terminal and forgets their claims.
// Anything else stays, including items that finished after the list was taken.
func (q *Queue) Drain(ids []string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	q.mu.Lock()

	kept := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		if _, ok := drop[it.ID]; ok && it.Status.IsTerminal() {
			delete(q.claimed, it.ID)
			continue
		}
		kept = append(kept, it)
	}

	removed := len(q.items) - len(kept)
	if removed == 0 {
		q.mu.Unlock()
		return 0
	}

	snap, v := q.commit(kept)
	q.mu.Unlock()

	q.publish(snap, v)
	return removed
}

func (q *Queue) indexOf(id string) int {
	for i, it := range q.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// replaced returns a copy of the items with position idx swapped; caller holds mu
func (q *Queue) replaced(idx int, it Item) []Item {
	next := make([]Item, len(q.items))
	copy(next, q.items)
	next[idx] = it
	return next
}

// commit installs next as the current slice; caller holds mu
func (q *Queue) commit(next []Item) ([]Item, uint64) {
	q.items = next
	q.version++
	return next, q.version
}

func (q *Queue) publish(snap []Item, version uint64) {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if version <= q.published {
		return
	}
	q.published = version

	for _, fn := range q.listeners {
		fn(snap)
	}
}
