// Package itemlock provides a per-memory_id mutex so outcome-recorder
// writes and promoter transitions against the same item never interleave.
// The registry is refcounted so the lock set does not grow unbounded across
// a long-lived process.
package itemlock

import (
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set is a process-local registry of per-id mutexes.
type Set struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*entry
}

func New() *Set {
	return &Set{locks: make(map[uuid.UUID]*entry)}
}

// Lock acquires the mutex for id, returning an unlock function that must be
// called exactly once to release it and allow the entry to be reclaimed.
func (s *Set) Lock(id uuid.UUID) func() {
	s.mu.Lock()
	e, ok := s.locks[id]
	if !ok {
		e = &entry{}
		s.locks[id] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
