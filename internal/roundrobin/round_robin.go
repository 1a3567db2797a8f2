// Package roundrobin implements the rotating selector over a
// health-tagged worker id set described in spec.md §4.2, grounded on
// original_source/core/round_robin.py and the modular-index rotation
// in the teacher's routing.Router.routeRoundRobin.
package roundrobin

import "sync"

// RoundRobin rotates over a set of ids, skipping any marked
// unavailable. Adding and removing ids is atomic with Next, and
// removal adjusts the internal cursor so the call following a removal
// returns the id that would naturally have followed it.
type RoundRobin struct {
	mu        sync.Mutex
	ids       []string
	available map[string]bool
	lastIndex int // index into ids of the most recently served id; -1 initially
}

// New builds a RoundRobin seeded with ids, all initially available.
func New(ids []string) *RoundRobin {
	rr := &RoundRobin{
		available: make(map[string]bool, len(ids)),
		lastIndex: -1,
	}
	for _, id := range ids {
		rr.ids = append(rr.ids, id)
		rr.available[id] = true
	}
	return rr
}

// Next returns the next available id in rotation order, or "" if
// there are no ids or none are available. The scan is bounded by the
// total id count.
func (rr *RoundRobin) Next() string {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	m := len(rr.ids)
	if m == 0 {
		return ""
	}
	for i := 0; i < m; i++ {
		idx := (rr.lastIndex + 1) % m
		rr.lastIndex = idx
		id := rr.ids[idx]
		if rr.available[id] {
			return id
		}
	}
	return ""
}

// First returns the first available id in registration order, without
// advancing the rotation cursor, or "" if none are available. Used
// where spec.md §4.3 calls for "the first connected worker" rather
// than a rotating selection.
func (rr *RoundRobin) First() string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for _, id := range rr.ids {
		if rr.available[id] {
			return id
		}
	}
	return ""
}

// MarkAvailable flags id as eligible for selection.
func (rr *RoundRobin) MarkAvailable(id string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if _, ok := rr.available[id]; ok {
		rr.available[id] = true
	}
}

// MarkUnavailable flags id as ineligible for selection without removing it.
func (rr *RoundRobin) MarkUnavailable(id string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if _, ok := rr.available[id]; ok {
		rr.available[id] = false
	}
}

// Add registers a new id, available immediately, preserving the
// existing rotation order for ids already present.
func (rr *RoundRobin) Add(id string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if _, exists := rr.available[id]; exists {
		return
	}
	rr.ids = append(rr.ids, id)
	rr.available[id] = true
}

// Remove drops id from rotation. If the removed id sat at or before
// the cursor, the cursor is shifted back one position so the next
// Next() call still resumes at the id that would naturally follow.
func (rr *RoundRobin) Remove(id string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	idx := -1
	for i, existing := range rr.ids {
		if existing == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	rr.ids = append(rr.ids[:idx], rr.ids[idx+1:]...)
	delete(rr.available, id)

	if idx <= rr.lastIndex {
		rr.lastIndex--
	}
}

// AvailableCount returns how many registered ids are currently available.
func (rr *RoundRobin) AvailableCount() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	n := 0
	for _, ok := range rr.available {
		if ok {
			n++
		}
	}
	return n
}

// All returns a snapshot of every registered id, in rotation order.
func (rr *RoundRobin) All() []string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	out := make([]string, len(rr.ids))
	copy(out, rr.ids)
	return out
}
