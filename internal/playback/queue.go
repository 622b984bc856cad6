package playback

import "sync"

// Queue is a FIFO of pending items for one guild. It is safe for
// concurrent use, but only the owning [Session] dequeues from it.
type Queue struct {
	mu    sync.Mutex
	items []Item
}

// Enqueue appends items in order. It never blocks on playback.
func (q *Queue) Enqueue(items ...Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// Dequeue removes and returns the head item. ok is false when the queue is
// empty.
func (q *Queue) Dequeue() (it Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	it = q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	return it, true
}

// Clear drops every pending item and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the pending items in order.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}
