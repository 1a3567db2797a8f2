// Package queue implements the three-class strict-priority FIFO
// dispatching queue of spec.md §4.1, grounded on
// original_source/core/priority_queue.py and generalized from the
// teacher's buffered-channel priority lanes (gateway.Dispatcher) into
// an explicit structure that can report wait-time statistics.
package queue

import (
	"container/list"
	"sync"
	"time"

	"reqsim/internal/protocol"
)

// waitWindowSize bounds the sliding window of wait-time samples kept
// per class; avg_wait is computed over at most this many of the most
// recent dequeues, per spec.md §3.
const waitWindowSize = 100

// dispatchOrder is the strict priority scan order: Z3 always preempts
// Z2 and Z1, Z2 always preempts Z1.
var dispatchOrder = [3]protocol.Class{protocol.ClassZ3, protocol.ClassZ2, protocol.ClassZ1}

// PriorityQueue is a three-class FIFO with strict priority dequeue
// ordering and per-class wait-time accounting. All operations are
// serialized under a single mutex; none perform I/O while holding it.
type PriorityQueue struct {
	mu    sync.Mutex
	lanes map[protocol.Class]*list.List
	waits map[protocol.Class][]time.Duration
	now   func() time.Time
}

// New constructs an empty PriorityQueue. now defaults to time.Now and
// exists as a seam for deterministic tests of wait-time accounting.
func New() *PriorityQueue {
	return NewWithClock(time.Now)
}

// NewWithClock builds a PriorityQueue using now as its clock source,
// so wait-time measurements can be driven by a virtual clock in tests
// (spec.md §9 permits substituting a virtual clock for sleep-based
// timing, provided all wait measurements share it).
func NewWithClock(now func() time.Time) *PriorityQueue {
	return &PriorityQueue{
		lanes: map[protocol.Class]*list.List{
			protocol.ClassZ1: list.New(),
			protocol.ClassZ2: list.New(),
			protocol.ClassZ3: list.New(),
		},
		waits: make(map[protocol.Class][]time.Duration),
		now:   now,
	}
}

type entry struct {
	req        *protocol.Request
	enqueuedAt time.Time
}

// Enqueue stamps r.EnqueuedAt and appends it to its class's lane. O(1).
func (q *PriorityQueue) Enqueue(r *protocol.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	ts := float64(now.UnixNano()) / 1e9
	r.EnqueuedAt = &ts

	q.lanes[r.Class].PushBack(&entry{req: r, enqueuedAt: now})
}

// Dequeue returns the head of the highest-priority non-empty lane, or
// nil if every lane is empty. It records the dequeued request's wait
// time into that class's sliding window.
func (q *PriorityQueue) Dequeue() *protocol.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, class := range dispatchOrder {
		lane := q.lanes[class]
		if lane.Len() == 0 {
			continue
		}
		front := lane.Remove(lane.Front()).(*entry)
		wait := q.now().Sub(front.enqueuedAt)
		q.recordWait(class, wait)
		return front.req
	}
	return nil
}

func (q *PriorityQueue) recordWait(class protocol.Class, wait time.Duration) {
	samples := append(q.waits[class], wait)
	if len(samples) > waitWindowSize {
		samples = samples[len(samples)-waitWindowSize:]
	}
	q.waits[class] = samples
}

// Size returns the total queued request count across all classes.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, lane := range q.lanes {
		total += lane.Len()
	}
	return total
}

// SizeOf returns the queued request count for one class.
func (q *PriorityQueue) SizeOf(class protocol.Class) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lanes[class].Len()
}

// IsEmpty reports whether every class's lane is empty.
func (q *PriorityQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, lane := range q.lanes {
		if lane.Len() > 0 {
			return false
		}
	}
	return true
}

// AvgWait returns the arithmetic mean of the last 100 recorded wait
// times for class, in seconds, or 0 if none have been recorded yet.
func (q *PriorityQueue) AvgWait(class protocol.Class) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	samples := q.waits[class]
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total.Seconds() / float64(len(samples))
}

// MaxWait returns the longest current wait among requests still
// enqueued in class, in seconds, or 0 if the class is empty.
func (q *PriorityQueue) MaxWait(class protocol.Class) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	lane := q.lanes[class]
	if lane.Len() == 0 {
		return 0
	}
	now := q.now()
	var max time.Duration
	for e := lane.Front(); e != nil; e = e.Next() {
		wait := now.Sub(e.Value.(*entry).enqueuedAt)
		if wait > max {
			max = wait
		}
	}
	return max.Seconds()
}
