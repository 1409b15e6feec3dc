// Package states holds the latest known state for every tracked identifier
// and lets other components react to changes. It is the lookup capability the
// tariff resolver reads and the channel the low-tariff monitor publishes on.
package states

import (
	"sync"
)

// Lookup reads the current state of an identifier. Implementations return
// false when the identifier has never been set.
type Lookup interface {
	State(id string) (string, bool)
}

// Store is an in-memory registry of states with change subscriptions.
// A state has no persisted identity; only the latest value is kept.
type Store struct {
	mu     sync.RWMutex
	states map[string]string
	subs   map[string]map[int]func(state string)
	nextID int
}

var _ Lookup = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		states: make(map[string]string),
		subs:   make(map[string]map[int]func(string)),
	}
}

// State returns the most recent state recorded for the identifier.
func (s *Store) State(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.states[id]
	return v, ok
}

// Set records a new state for the identifier and notifies subscribers.
// Subscribers are invoked synchronously; they must not block.
func (s *Store) Set(id, state string) {
	s.mu.Lock()
	s.states[id] = state
	var fns []func(string)
	for _, fn := range s.subs[id] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// Subscribe registers fn to be called whenever the identifier's state changes.
// The returned function removes the subscription; calling it more than once is
// safe.
func (s *Store) Subscribe(id string, fn func(state string)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[id] == nil {
		s.subs[id] = make(map[int]func(string))
	}
	subID := s.nextID
	s.nextID++
	s.subs[id][subID] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[id], subID)
			if len(s.subs[id]) == 0 {
				delete(s.subs, id)
			}
		})
	}
}
