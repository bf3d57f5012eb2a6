// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package dispatch

import (
	"context"
	"sync"
)

// Result is the success value of a dispatcher. It can be any type, mirroring
// the dynamically-typed payloads of the event sources this package consumes.
type Result = any

// State represents the lifecycle state of a [Dispatcher]. A dispatcher
// starts in [Pending] and transitions exactly once to either [Ended] or
// [Cancelled]. Transitions are irreversible.
type State int32

const (
	// Pending indicates the outcome has not yet been determined.
	Pending State = iota

	// Ended indicates the dispatcher completed successfully with a value.
	Ended

	// Cancelled indicates the dispatcher failed with an error.
	Cancelled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ended:
		return "ended"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the settled result of a [Dispatcher] or [Future]: exactly one
// of Value (Err == nil) or Err is meaningful. A nil Value with a nil Err is
// a legitimate success outcome.
type Outcome struct {
	Value Result
	Err   error
}

// Future is a read-only view of an eventual outcome, consumed by
// [Dispatcher.Chain] and [Dispatcher.Short]. *Dispatcher satisfies it, as
// do the values returned by [Go], [Resolved] and [Failed].
type Future interface {
	// Finish returns a channel that receives the outcome when it is
	// determined and is closed afterwards. Each call returns a fresh
	// channel; if the outcome is already determined the channel is
	// pre-filled. All channels observe the identical outcome.
	Finish() <-chan Outcome
}

// completer is the write half of a dispatcher-like type. The composition
// operators drive targets through it so that specializations keep their own
// end/cancel semantics (e.g. Timeout's benign early termination,
// EventDispatcher's in-flight gating).
type completer interface {
	End(Result)
	Cancel(error)
}

// Dispatcher is a single-assignment outcome cell: the lifecycle core
// underlying every dispatcher type in this package.
//
// A Dispatcher is created pending. The first call to [Dispatcher.End] or
// [Dispatcher.Cancel], in scheduling order, determines the outcome; all
// later calls are silently ignored. The configured cleanup action runs
// exactly once, on the winning transition, for both the value and failure
// branches.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	mu          sync.Mutex
	state       State
	outcome     Outcome
	subscribers []chan Outcome
	callbacks   []func(Outcome)
	// cancelled is closed on the failure transition only; Short races
	// futures against it.
	cancelled chan struct{}
	cleanup   func()
	logger    *Logger
}

var _ Future = (*Dispatcher)(nil)
var _ completer = (*Dispatcher)(nil)

// New creates a pending Dispatcher.
func New(opts ...CoreOption) (*Dispatcher, error) {
	cfg, err := resolveCoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return newCore(cfg.cleanup, cfg.logger), nil
}

func newCore(cleanup func(), logger *Logger) *Dispatcher {
	return &Dispatcher{
		cancelled: make(chan struct{}),
		cleanup:   cleanup,
		logger:    logger,
	}
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Outcome returns the settled outcome and true, or a zero Outcome and false
// while the dispatcher is pending.
func (d *Dispatcher) Outcome() (Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome, d.state != Pending
}

// End attempts to determine the outcome as successful with value. It is a
// no-op if the outcome is already determined.
func (d *Dispatcher) End(value Result) {
	d.settle(Outcome{Value: value})
}

// Cancel attempts to determine the outcome as failed with err. A nil err is
// normalized to [ErrCancelled]. It is a no-op if the outcome is already
// determined.
func (d *Dispatcher) Cancel(err error) {
	if err == nil {
		err = ErrCancelled
	}
	d.settle(Outcome{Err: err})
}

// settle performs the one-shot transition. Returns true if this call won.
//
// The cleanup action runs before subscribers and callbacks observe the
// outcome, so resources are released by the time any observer resumes. A
// panicking cleanup is swallowed: the outcome is already fixed, and the
// first failure wins.
func (d *Dispatcher) settle(o Outcome) bool {
	d.mu.Lock()
	if d.state != Pending {
		d.mu.Unlock()
		return false
	}
	if o.Err != nil {
		d.state = Cancelled
	} else {
		d.state = Ended
	}
	d.outcome = o
	subs := d.subscribers
	d.subscribers = nil
	cbs := d.callbacks
	d.callbacks = nil
	cleanup := d.cleanup
	d.cleanup = nil
	cancelled := d.cancelled
	d.mu.Unlock()

	if o.Err != nil {
		close(cancelled)
	}

	d.logger.Trace().
		Stringer("state", d.stateFor(o)).
		Err(o.Err).
		Log("dispatcher settled")

	if cleanup != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Warning().
						Err(PanicError{Value: r}).
						Log("cleanup action panicked")
				}
			}()
			cleanup()
		}()
	}
	for _, cb := range cbs {
		cb(o)
	}
	for _, ch := range subs {
		ch <- o
		close(ch)
	}
	return true
}

func (d *Dispatcher) stateFor(o Outcome) State {
	if o.Err != nil {
		return Cancelled
	}
	return Ended
}

// Finish returns the completion handle: a channel that receives the outcome
// once it is determined, then is closed. It may be called any number of
// times, before or after resolution, concurrently or sequentially; every
// returned channel observes the identical outcome. Failures are reported
// through the channel, never panicked.
func (d *Dispatcher) Finish() <-chan Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan Outcome, 1)
	if d.state != Pending {
		ch <- d.outcome
		close(ch)
		return ch
	}
	d.subscribers = append(d.subscribers, ch)
	return ch
}

// Wait blocks until the outcome is determined or ctx is done, whichever
// comes first, and reports it as a conventional (value, error) pair.
func (d *Dispatcher) Wait(ctx context.Context) (Result, error) {
	select {
	case o := <-d.Finish():
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// onSettle registers a callback invoked exactly once with the settled
// outcome. If the outcome is already determined, the callback runs
// immediately on the calling goroutine.
func (d *Dispatcher) onSettle(cb func(Outcome)) {
	d.mu.Lock()
	if d.state != Pending {
		o := d.outcome
		d.mu.Unlock()
		cb(o)
		return
	}
	d.callbacks = append(d.callbacks, cb)
	d.mu.Unlock()
}

// Chain subscribes f so that its success ends this dispatcher and its
// failure cancels it. Returns [ErrNilFuture] for a nil future; otherwise it
// never fails, and f's eventual outcome is applied with first-wins
// semantics like any other End/Cancel call.
func (d *Dispatcher) Chain(f Future) error {
	return chainInto(d, f)
}

// Adopt bridges this dispatcher and other both ways: whichever settles
// first, with whichever branch, determines the outcome of both. Returns
// [ErrNilDispatcher] for a nil dispatcher and [ErrAdoptSelf] when other is
// this dispatcher's own core.
func (d *Dispatcher) Adopt(other *Dispatcher) error {
	return adoptInto(d, d, other)
}

// Short returns a future that settles with whichever comes first: f's own
// outcome, or this dispatcher's cancellation. The dispatcher ending
// successfully does not settle the returned future; it keeps tracking f.
// Short never mutates the dispatcher's state. Returns [ErrNilFuture] for a
// nil future.
func (d *Dispatcher) Short(f Future) (Future, error) {
	if f == nil {
		return nil, ErrNilFuture
	}
	out := newCore(nil, d.logger)
	go func() {
		select {
		case o := <-f.Finish():
			out.settle(o)
		case <-d.cancelled:
			o, _ := d.Outcome()
			out.Cancel(o.Err)
		}
	}()
	return out, nil
}

// chainInto implements Chain against any completer, so specializations
// route chained outcomes through their own End/Cancel semantics.
func chainInto(c completer, f Future) error {
	if f == nil {
		return ErrNilFuture
	}
	go func() {
		o := <-f.Finish()
		if o.Err != nil {
			c.Cancel(o.Err)
		} else {
			c.End(o.Value)
		}
	}()
	return nil
}

// adoptInto implements Adopt: other's outcome drives c's End/Cancel, and
// core's outcome is applied to other directly. core is c's lifecycle core.
func adoptInto(c completer, core, other *Dispatcher) error {
	if other == nil {
		return ErrNilDispatcher
	}
	if other == core {
		return ErrAdoptSelf
	}
	other.onSettle(func(o Outcome) {
		if o.Err != nil {
			c.Cancel(o.Err)
		} else {
			c.End(o.Value)
		}
	})
	core.onSettle(func(o Outcome) {
		other.settle(o)
	})
	return nil
}
