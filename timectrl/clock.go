package timectrl

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock access so pollers and widgets can be driven by
// a manual clock in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker returns a ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker used by the scheduler.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is a Clock backed by the time package.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// NewTicker wraps time.NewTicker.
func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// ManualClock is a Clock whose time only moves when Set or Advance is
// called. Tickers created from it fire during Advance, dropping ticks when
// the receiver is behind, like time.Ticker.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManualClock constructs a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t without firing tickers.
func (m *ManualClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
	for _, tk := range m.tickers {
		tk.next = t.Add(tk.period)
	}
}

// Advance moves the clock forward by d and fires every ticker whose next
// deadline has passed.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	live := m.tickers[:0]
	var due []*manualTicker
	for _, tk := range m.tickers {
		if tk.stopped {
			continue
		}
		live = append(live, tk)
		if !now.Before(tk.next) {
			due = append(due, tk)
			for !now.Before(tk.next) {
				tk.next = tk.next.Add(tk.period)
			}
		}
	}
	m.tickers = live
	m.mu.Unlock()

	for _, tk := range due {
		select {
		case tk.ch <- now:
		default:
		}
	}
}

// NewTicker registers a ticker that fires on Advance.
func (m *ManualClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timectrl: non-positive ticker period")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := &manualTicker{clock: m, period: d, next: m.now.Add(d), ch: make(chan time.Time, 1)}
	m.tickers = append(m.tickers, tk)
	return tk
}

// ActiveTickers returns the number of tickers not yet stopped.
func (m *ManualClock) ActiveTickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tk := range m.tickers {
		if !tk.stopped {
			n++
		}
	}
	return n
}

type manualTicker struct {
	clock   *ManualClock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
