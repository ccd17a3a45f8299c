package timectrl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/skywatch/internal/logging"
)

// ErrAlreadyRunning is returned by Start on a poller that has not been stopped.
var ErrAlreadyRunning = errors.New("poller already running")

// ComputeFunc produces one result for the cycle starting at at. It must
// honour ctx: a cancelled cycle's result is discarded.
type ComputeFunc[T any] func(ctx context.Context, at time.Time) (T, error)

// PollerOption configures a Poller.
type PollerOption func(*pollerOptions)

type pollerOptions struct {
	clock     Clock
	log       logging.Logger
	onError   func(error)
	immediate bool
}

// WithClock overrides the system clock.
func WithClock(c Clock) PollerOption {
	return func(o *pollerOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) PollerOption {
	return func(o *pollerOptions) { o.log = logging.OrNoop(l) }
}

// OnError registers a callback for cycles whose compute function failed.
func OnError(fn func(error)) PollerOption {
	return func(o *pollerOptions) { o.onError = fn }
}

// WithoutImmediateRun delays the first cycle until the first tick.
func WithoutImmediateRun() PollerOption {
	return func(o *pollerOptions) { o.immediate = false }
}

// Poller runs a compute function on a fixed period and commits each
// result. Cycles never overlap: they all run on one goroutine per
// activation, which owns exactly one ticker. Every cycle gets its own
// cancellation context and results are committed only if that context is
// still live once compute returns.
type Poller[T any] struct {
	name    string
	period  time.Duration
	compute ComputeFunc[T]
	commit  func(T)
	opts    pollerOptions

	kick chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	cycles    atomic.Uint64
	committed atomic.Uint64
}

// NewPoller builds a stopped poller. commit may be nil.
func NewPoller[T any](name string, period time.Duration, compute ComputeFunc[T], commit func(T), opts ...PollerOption) *Poller[T] {
	o := pollerOptions{
		clock:     SystemClock{},
		log:       logging.Noop(),
		immediate: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Poller[T]{
		name:    name,
		period:  period,
		compute: compute,
		commit:  commit,
		opts:    o,
		kick:    make(chan struct{}, 1),
	}
}

// Name returns the poller's name.
func (p *Poller[T]) Name() string { return p.name }

// Period returns the tick period.
func (p *Poller[T]) Period() time.Duration { return p.period }

// Start launches the polling goroutine. The poller stops when ctx is
// cancelled or Stop is called; it can be started again afterwards.
func (p *Poller[T]) Start(ctx context.Context) error {
	if p.period <= 0 {
		return errors.New("poller period must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		select {
		case <-p.done:
		default:
			return ErrAlreadyRunning
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ticker := p.opts.clock.NewTicker(p.period)
	p.cancel = cancel
	p.done = done

	// A kick left over from a previous activation belongs to that activation.
	select {
	case <-p.kick:
	default:
	}

	go p.loop(loopCtx, ticker, done)
	p.opts.log.Debug(ctx, "poller started",
		logging.String("poller", p.name),
		logging.Duration("period", p.period),
	)
	return nil
}

// Kick requests an immediate cycle. Kicks that arrive while one is already
// pending coalesce into a single cycle.
func (p *Poller[T]) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Stop cancels the in-flight cycle and the ticker and waits for the polling
// goroutine to exit. It must not be called from the commit callback.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the polling goroutine is live.
func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Cycles returns how many cycles have run their compute function.
func (p *Poller[T]) Cycles() uint64 { return p.cycles.Load() }

// Committed returns how many results have been committed.
func (p *Poller[T]) Committed() uint64 { return p.committed.Load() }

func (p *Poller[T]) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	if p.opts.immediate {
		p.runCycle(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.runCycle(ctx)
		case <-p.kick:
			p.runCycle(ctx)
		}
	}
}

func (p *Poller[T]) runCycle(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	ctx, _ = logging.WithCycleID(ctx)

	result, err := p.compute(ctx, p.opts.clock.Now())
	p.cycles.Add(1)

	if ctx.Err() != nil {
		p.opts.log.Debug(ctx, "discarding result of cancelled cycle", logging.String("poller", p.name))
		return
	}
	if err != nil {
		if p.opts.onError != nil {
			p.opts.onError(err)
		} else {
			p.opts.log.Warn(ctx, "poller cycle failed", logging.String("poller", p.name), logging.Err(err))
		}
		return
	}
	if p.commit != nil {
		p.commit(result)
	}
	p.committed.Add(1)
}
