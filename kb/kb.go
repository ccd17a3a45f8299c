// Package kb holds the process-wide observer position that every widget
// reads at the start of its computation cycle.
package kb

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/skywatch/model"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	// EventResolved fires the first time a position is set.
	EventResolved EventType = iota
	// EventMoved fires when a resolved position changes.
	EventMoved
)

func (t EventType) String() string {
	switch t {
	case EventResolved:
		return "resolved"
	case EventMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when the observer changes.
type Event struct {
	Type     EventType
	Observer model.ObserverPosition
	// Previous is the zero value for EventResolved.
	Previous model.ObserverPosition
}

// ObserverStore is an in-memory, thread-safe holder for the current
// observer position. Consumers only read it; the locator writes it.
type ObserverStore struct {
	mu sync.RWMutex

	current  model.ObserverPosition
	resolved bool

	nextSub int
	subs    map[int]func(Event)
}

// NewObserverStore constructs an unresolved store.
func NewObserverStore() *ObserverStore {
	return &ObserverStore{subs: make(map[int]func(Event))}
}

// Current returns the observer position; ok is false while unresolved.
func (s *ObserverStore) Current() (model.ObserverPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.resolved
}

// Resolved reports whether a position has been set.
func (s *ObserverStore) Resolved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved
}

// Set validates and stores pos, then notifies subscribers. Setting the same
// location again updates the name and source without emitting an event.
func (s *ObserverStore) Set(pos model.ObserverPosition) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("invalid observer: %w", err)
	}

	s.mu.Lock()
	prev, wasResolved := s.current, s.resolved
	s.current = pos
	s.resolved = true
	if wasResolved && prev.SameLocation(pos) {
		s.mu.Unlock()
		return nil
	}
	event := Event{Type: EventResolved, Observer: pos}
	if wasResolved {
		event.Type = EventMoved
		event.Previous = prev
	}
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Rename replaces the place name of the current observer when it is still
// at pos's location and came from pos's source. It emits no event and
// reports whether the name was applied; false means the observer moved or
// was never resolved.
func (s *ObserverStore) Rename(pos model.ObserverPosition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resolved || s.current.Source != pos.Source || !s.current.SameLocation(pos) {
		return false
	}
	s.current.Name = pos.Name
	return true
}

// Subscribe registers a callback for observer events. It returns an
// unsubscribe function that is safe to call more than once.
func (s *ObserverStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Subscribers returns the number of registered callbacks.
func (s *ObserverStore) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
