package controller

import "container/heap"

// admissionQueue orders waiting executions by priority (higher first), FIFO
// among equal priority via a monotonic sequence number. Not safe for
// concurrent use; the controller's mutex guards it.
type admissionQueue struct {
	entries entryHeap
}

func newAdmissionQueue() *admissionQueue {
	q := &admissionQueue{}
	heap.Init(&q.entries)
	return q
}

func (q *admissionQueue) Push(e *execution) {
	heap.Push(&q.entries, e)
}

// Pop removes and returns the highest-priority entry, or nil when empty.
func (q *admissionQueue) Pop() *execution {
	if len(q.entries) == 0 {
		return nil
	}
	return heap.Pop(&q.entries).(*execution)
}

// Peek returns the next entry without removing it.
func (q *admissionQueue) Peek() *execution {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// Remove takes a specific entry out of the queue. Returns false if the entry
// is not queued.
func (q *admissionQueue) Remove(id string) *execution {
	for i, e := range q.entries {
		if e.id == id {
			return heap.Remove(&q.entries, i).(*execution)
		}
	}
	return nil
}

func (q *admissionQueue) Len() int {
	return len(q.entries)
}

type entryHeap []*execution

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*execution)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
