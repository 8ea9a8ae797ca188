// Package connectivity reports whether the remote API is reachable.
//
// The sync engine only dispatches while a Monitor reports online and starts
// a drain on every offline to online transition.
package connectivity

import (
	"sync"
)

// Monitor is a source of online/offline signals.
type Monitor interface {
	Online() bool
	// Subscribe registers fn for transitions. fn runs on the goroutine that
	// observed the change.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// state holds the current signal and notifies subscribers on transitions.
type state struct {
	mu     sync.RWMutex
	online bool
	subs   map[uint64]func(bool)
	nextID uint64
}

func newState(online bool) *state {
	return &state{online: online, subs: make(map[uint64]func(bool))}
}

// Online reports the last observed state.
func (s *state) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Subscribe registers fn for state transitions.
func (s *state) Subscribe(fn func(online bool)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// set stores online and notifies subscribers if it changed. It reports
// whether a transition happened.
func (s *state) set(online bool) bool {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return false
	}
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
	return true
}

// Manual is a Monitor driven by explicit calls, used by the local API when
// the platform shell forwards its own network callbacks, and by tests.
type Manual struct {
	*state
}

// NewManual creates a Manual monitor with an initial state.
func NewManual(online bool) *Manual {
	return &Manual{state: newState(online)}
}

// SetOnline changes the state, notifying subscribers on a transition.
func (m *Manual) SetOnline(online bool) bool {
	return m.set(online)
}
