package event

import "container/heap"

// entry pairs a scheduled Event with the Key it was filed under. The key is
// captured at insertion time because an Event itself carries no ordering
// information — the owning logical process assigns that.
type entry struct {
	key Key
	evt Event
}

// Queue is the min-heap future event list owned by a single logical
// process, keyed by (ts, uid). It carries no thread-safety guarantee: each
// instance is accessed only by the worker currently driving its owning LP.
type Queue struct {
	h entryHeap
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	q := &Queue{h: make(entryHeap, 0)}
	heap.Init(&q.h)
	return q
}

// Insert adds evt under key to the queue.
func (q *Queue) Insert(key Key, evt Event) {
	heap.Push(&q.h, entry{key: key, evt: evt})
}

// Peek returns the earliest-keyed event without removing it, and false if
// the queue is empty.
func (q *Queue) Peek() (Key, Event, bool) {
	if len(q.h) == 0 {
		return Key{}, nil, false
	}
	top := q.h[0]
	return top.key, top.evt, true
}

// Pop removes and returns the earliest-keyed event.
func (q *Queue) Pop() (Key, Event, bool) {
	if len(q.h) == 0 {
		return Key{}, nil, false
	}
	top := heap.Pop(&q.h).(entry)
	return top.key, top.evt, true
}

// Remove deletes the entry matching id's key, if present, and reports
// whether it found one. This is an O(n) linear scan, matching the source
// scheduler's removal cost.
func (q *Queue) Remove(id ID) bool {
	key := id.Key()
	for i, e := range q.h {
		if e.key == key {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	return len(q.h)
}

// IsEmpty reports whether the queue holds no events.
func (q *Queue) IsEmpty() bool {
	return len(q.h) == 0
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	return h[i].key.Less(h[j].key)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
