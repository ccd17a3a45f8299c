package radar

import (
	"sync"

	"github.com/signalsfoundry/skywatch/model"
)

// listeners fans snapshots and state transitions out to subscribers.
// Callbacks run outside the lock.
type listeners struct {
	mu       sync.Mutex
	next     int
	snapshot map[int]func(*model.VisibilitySnapshot)
	state    map[int]func(from, to model.WidgetState)
}

func (l *listeners) addSnapshot(fn func(*model.VisibilitySnapshot)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot == nil {
		l.snapshot = make(map[int]func(*model.VisibilitySnapshot))
	}
	id := l.next
	l.next++
	l.snapshot[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.snapshot, id)
	}
}

func (l *listeners) addState(fn func(from, to model.WidgetState)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		l.state = make(map[int]func(from, to model.WidgetState))
	}
	id := l.next
	l.next++
	l.state[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.state, id)
	}
}

func (l *listeners) publishSnapshot(snap *model.VisibilitySnapshot) {
	l.mu.Lock()
	fns := make([]func(*model.VisibilitySnapshot), 0, len(l.snapshot))
	for _, fn := range l.snapshot {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (l *listeners) publishState(from, to model.WidgetState) {
	l.mu.Lock()
	fns := make([]func(from, to model.WidgetState), 0, len(l.state))
	for _, fn := range l.state {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(from, to)
	}
}
