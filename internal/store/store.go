package store

import (
	"sort"
	"sync"

	"github.com/roach88/marginalia/internal/annotation"
)

// UpdateFunc is invoked after every successful Update with the merged annotation.
type UpdateFunc func(a *annotation.Annotation)

// Store is the keyed annotation collection.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	byID      map[int64]*annotation.Annotation
	callbacks []UpdateFunc
}

// New creates an empty store. The first allocated id is 1.
func New() *Store {
	return &Store{
		byID: make(map[int64]*annotation.Annotation),
	}
}

// GetID allocates the next unique id. It never returns 0.
func (s *Store) GetID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocLocked()
}

func (s *Store) allocLocked() int64 {
	s.nextID++
	return s.nextID
}

// Set registers a as a new entry under a freshly allocated id, ignoring any
// id already on a. The stored pointer is returned.
func (s *Store) Set(a *annotation.Annotation) *annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.allocLocked()
	s.byID[a.ID] = a
	return a
}

// Get returns the annotation stored under id.
func (s *Store) Get(id int64) (*annotation.Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

// All returns the live id → annotation map. Callers must not assume it is
// immutable, and must not use it concurrently with writers.
func (s *Store) All() map[int64]*annotation.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID
}

// Len returns the number of stored annotations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// IDs returns the stored ids in ascending order.
func (s *Store) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idsLocked()
}

func (s *Store) idsLocked() []int64 {
	ids := make([]int64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Export returns deep copies of every stored annotation, ordered by id, with
// the local flag stripped. Stored annotations are never modified.
func (s *Store) Export() []*annotation.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*annotation.Annotation, 0, len(s.byID))
	for _, id := range s.idsLocked() {
		c := s.byID[id].Clone()
		c.Local = false
		out = append(out, c)
	}
	return out
}

// Update merges a into the stored entry with the same id and notifies every
// subscriber in subscription order. When a.ID is unknown, a is returned
// unchanged and nobody is notified.
func (s *Store) Update(a *annotation.Annotation) *annotation.Annotation {
	if a == nil {
		return nil
	}

	s.mu.Lock()
	stored, ok := s.byID[a.ID]
	if !ok {
		s.mu.Unlock()
		return a
	}
	stored.Merge(a)
	callbacks := make([]UpdateFunc, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(stored)
	}
	return stored
}

// SetMany bulk-imports annotations. Drafts receive fresh ids; entries that
// already carry an id replace whatever is stored under it. The id counter is
// raised past every imported id so later allocations never collide.
// Returns the live map, like All.
func (s *Store) SetMany(annotations []*annotation.Annotation) map[int64]*annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range annotations {
		if a == nil {
			continue
		}
		if a.ID <= 0 {
			a.ID = s.allocLocked()
		} else if a.ID > s.nextID {
			s.nextID = a.ID
		}
		s.byID[a.ID] = a
	}
	return s.byID
}

// OnUpdate subscribes cb to successful updates.
func (s *Store) OnUpdate(cb UpdateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}
