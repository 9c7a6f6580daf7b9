// Package lru implements a fixed-capacity set that forgets its least recently
// used keys.
//
// It backs the optional cap on the dedup seen-set: once capacity keys are held,
// adding a new key evicts the key that was added or looked up longest ago.
//
// Thread Safety: Set is not safe for concurrent use. The dedup store that owns
// it is confined to the pipeline goroutine.
package lru

import "container/list"

// Set is a bounded LRU set of comparable keys.
type Set[K comparable] struct {
	capacity int
	order    *list.List          // front = most recently used
	items    map[K]*list.Element // key -> element holding the key
	evicted  uint64
}

// New creates a set holding at most capacity keys (1000 if capacity <= 0).
func New[K comparable](capacity int) *Set[K] {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Set[K]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

// Contains reports whether key is present and marks it most recently used.
func (s *Set[K]) Contains(key K) bool {
	elem, ok := s.items[key]
	if !ok {
		return false
	}
	s.order.MoveToFront(elem)
	return true
}

// Add inserts key. It returns the evicted key and true when the insert pushed
// the set over capacity. Adding a present key only refreshes it.
func (s *Set[K]) Add(key K) (K, bool) {
	var zero K
	if elem, ok := s.items[key]; ok {
		s.order.MoveToFront(elem)
		return zero, false
	}

	s.items[key] = s.order.PushFront(key)
	if s.order.Len() <= s.capacity {
		return zero, false
	}

	oldest := s.order.Back()
	s.order.Remove(oldest)
	old := oldest.Value.(K)
	delete(s.items, old)
	s.evicted++
	return old, true
}

func (s *Set[K]) Len() int {
	return s.order.Len()
}

// Evicted returns how many keys have been pushed out since creation.
func (s *Set[K]) Evicted() uint64 {
	return s.evicted
}
