package crawler

import (
	"sync"

	"github.com/alvmarrod/artist-weaver/internal/identity"
)

// Queue implements a thread-safe FIFO of node ids with membership checks.
// An id is held at most once.
type Queue struct {
	mu      sync.Mutex
	items   []identity.NodeID
	members map[identity.NodeID]struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		items:   make([]identity.NodeID, 0),
		members: make(map[identity.NodeID]struct{}),
	}
}

// Push appends id unless it is already queued.
// Returns true if added, false if duplicate
func (q *Queue) Push(id identity.NodeID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.members[id]; ok {
		return false
	}
	q.members[id] = struct{}{}
	q.items = append(q.items, id)
	return true
}

// PushFront puts ids back at the head of the queue, keeping their order.
// Ids that are already queued are left where they are.
func (q *Queue) PushFront(ids []identity.NodeID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := make([]identity.NodeID, 0, len(ids)+len(q.items))
	for _, id := range ids {
		if _, ok := q.members[id]; ok {
			continue
		}
		q.members[id] = struct{}{}
		front = append(front, id)
	}
	q.items = append(front, q.items...)
}

// Pop removes and returns the first id.
// Returns (id, true) if successful, (Nil, false) if empty
func (q *Queue) Pop() (identity.NodeID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return identity.Nil, false
	}
	id := q.items[0]
	q.items = q.items[1:]
	delete(q.members, id)
	return id, true
}

// Contains reports whether id is queued
func (q *Queue) Contains(id identity.NodeID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[id]
	return ok
}

// IsEmpty returns true if the queue has no items
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Size returns the current number of items in the queue
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetAllEntries returns a snapshot of the queue in order.
// Used for persisting queue state on checkpoint/shutdown
func (q *Queue) GetAllEntries() []identity.NodeID {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := make([]identity.NodeID, len(q.items))
	copy(entries, q.items)
	return entries
}

// Reset replaces the queue contents, dropping duplicates
func (q *Queue) Reset(ids []identity.NodeID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make([]identity.NodeID, 0, len(ids))
	q.members = make(map[identity.NodeID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := q.members[id]; ok {
			continue
		}
		q.members[id] = struct{}{}
		q.items = append(q.items, id)
	}
}
