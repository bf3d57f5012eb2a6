package dispatch

import (
	"context"
	"sync"
)

// errorEvent is the source's fatal-by-convention event name; the
// automatic cancel wiring listens on it.
const errorEvent = "error"

// trackedListener records a registration made on the source, so that it
// can be reversed. The dispatcher only ever removes listeners it
// registered itself.
type trackedListener struct {
	event string
	id    ListenerID
}

// EventDispatcher consumes events from an [Emitter] and owns a lifecycle
// core whose outcome they drive.
//
// Handlers registered via [EventDispatcher.On] are wrapped so that their
// asynchronous execution is counted in flight. A requested [EventDispatcher.End]
// is deferred until the in-flight count drains to zero, so a handler's
// in-progress work is never cut off by a later end request. Cancellation
// is not gated: it settles the dispatcher immediately.
//
// An "error" event on the source cancels the dispatcher. This listener is
// installed at construction and, unless [WithKeepErrorListener] was given,
// removed only after the first completion observer has been served, one
// step later than general listener teardown.
type EventDispatcher struct {
	core *Dispatcher

	mu            sync.Mutex
	source        Emitter
	tracked       []trackedListener
	inFlight      int
	pendingEnd    Result
	pendingEndSet bool

	// removeErrListener is captured at construction and nil when the
	// error listener is configured to persist.
	removeErrListener func()
	removeErrOnce     sync.Once

	logger *Logger
}

var _ completer = (*EventDispatcher)(nil)

// NewEventDispatcher creates a dispatcher bound to source and installs the
// error-to-cancel listener. Returns [ErrNilSource] for a nil source.
func NewEventDispatcher(source Emitter, opts ...Option) (*EventDispatcher, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	d := &EventDispatcher{
		source: source,
		logger: cfg.logger,
	}
	userCleanup := cfg.cleanup
	d.core = newCore(func() {
		d.removeListeners()
		if userCleanup != nil {
			userCleanup()
		}
	}, cfg.logger)

	errID := source.On(errorEvent, func(args ...Result) {
		d.Cancel(errorFromArgs(errorEvent, args))
	})
	if !cfg.keepErrorListener {
		d.removeErrListener = func() {
			source.Off(errorEvent, errID)
		}
	}
	return d, nil
}

// On registers a handler for the named event on the source, tracked for
// later removal. The [AsEnd] and [AsCancel] sentinels bind the event to
// the dispatcher's End and Cancel; any other Handler must carry a
// callback, else [ErrNilHandler] is returned.
//
// Registration after the dispatcher has been torn down is silently
// ignored.
func (d *EventDispatcher) On(event string, h Handler) error {
	if h.kind == handlerUser && h.fn == nil {
		return ErrNilHandler
	}

	d.mu.Lock()
	src := d.source
	d.mu.Unlock()
	if src == nil {
		d.logger.Debug().
			Str("event", event).
			Log("listener registration ignored, dispatcher torn down")
		return nil
	}

	var l Listener
	switch h.kind {
	case handlerEnd:
		l = func(args ...Result) {
			d.End(firstArg(args))
		}
	case handlerCancel:
		l = func(args ...Result) {
			d.Cancel(errorFromArgs(event, args))
		}
	default:
		fn := h.fn
		l = func(args ...Result) {
			d.runHandler(fn, args)
		}
	}

	id := src.On(event, l)
	d.mu.Lock()
	if d.source == nil {
		// Torn down while registering; reverse immediately.
		d.mu.Unlock()
		src.Off(event, id)
		return nil
	}
	d.tracked = append(d.tracked, trackedListener{event: event, id: id})
	d.mu.Unlock()

	d.logger.Trace().
		Str("event", event).
		Uint64("listener", uint64(id)).
		Log("listener registered")
	return nil
}

// runHandler wraps a user callback invocation: the in-flight count covers
// the synchronous body and, when the handler returns a future, its
// asynchronous continuation. Failures of either cancel the dispatcher.
func (d *EventDispatcher) runHandler(fn HandlerFunc, args []Result) {
	d.mu.Lock()
	d.inFlight++
	d.mu.Unlock()

	fut, err := func() (f Future, err error) {
		defer func() {
			if r := recover(); r != nil {
				f = nil
				err = PanicError{Value: r}
			}
		}()
		return fn(args...)
	}()
	if err != nil {
		d.core.Cancel(err)
		d.handlerDone()
		return
	}
	if fut == nil {
		d.handlerDone()
		return
	}
	go func() {
		o := <-fut.Finish()
		if o.Err != nil {
			d.core.Cancel(o.Err)
		}
		d.handlerDone()
	}()
}

// handlerDone decrements the in-flight count and applies a deferred end
// request once the count drains to zero.
func (d *EventDispatcher) handlerDone() {
	d.mu.Lock()
	d.inFlight--
	apply := d.inFlight == 0 && d.pendingEndSet
	result := d.pendingEnd
	d.mu.Unlock()
	if apply {
		d.logger.Debug().Log("in-flight handlers drained, applying deferred end")
		d.core.End(result)
	}
}

// End requests successful completion with result.
//
// All tracked listeners are removed from the source before End returns, so
// no further events are processed, whether or not completion is granted
// yet. With handlers in flight, the result is recorded and applied when
// the count drains to zero; the first recorded result wins. A panic raised
// by the source during removal is routed to the completion handle as a
// [TeardownError] rather than propagated.
func (d *EventDispatcher) End(result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.core.Cancel(&TeardownError{Cause: asError(r)})
		}
	}()
	d.removeListeners()

	d.mu.Lock()
	if d.inFlight > 0 {
		if !d.pendingEndSet {
			d.pendingEndSet = true
			d.pendingEnd = result
		}
		n := d.inFlight
		d.mu.Unlock()
		d.logger.Debug().
			Int("in_flight", n).
			Log("end deferred until in-flight handlers drain")
		return
	}
	d.mu.Unlock()
	d.core.End(result)
}

// Cancel fails the dispatcher immediately with err, independent of the
// in-flight count. Listener removal is driven by the core's cleanup
// action.
func (d *EventDispatcher) Cancel(err error) {
	d.core.Cancel(err)
}

// removeListeners reverses every tracked registration and drops the source
// reference. Idempotent; the deferred error listener is not covered here
// (see Finish).
func (d *EventDispatcher) removeListeners() {
	d.mu.Lock()
	src := d.source
	d.source = nil
	tracked := d.tracked
	d.tracked = nil
	d.mu.Unlock()
	if src == nil {
		return
	}
	for _, tl := range tracked {
		src.Off(tl.event, tl.id)
	}
}

// Finish returns the completion handle of the underlying lifecycle core.
// After the first settled observation has been delivered, the deferred
// error-listener removal is performed, unless the listener was configured
// to persist.
func (d *EventDispatcher) Finish() <-chan Outcome {
	inner := d.core.Finish()
	out := make(chan Outcome, 1)
	go func() {
		o := <-inner
		out <- o
		close(out)
		if d.removeErrListener != nil {
			d.removeErrOnce.Do(func() {
				// The outcome is already fixed; a source that fails
				// removal at this point cannot affect it.
				defer func() {
					if r := recover(); r != nil {
						d.logger.Warning().
							Err(asError(r)).
							Log("deferred error listener removal panicked")
					}
				}()
				d.removeErrListener()
			})
		}
	}()
	return out
}

// Wait blocks until the outcome is determined or ctx is done, whichever
// comes first.
func (d *EventDispatcher) Wait(ctx context.Context) (Result, error) {
	select {
	case o := <-d.Finish():
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State returns the lifecycle state of the underlying core.
func (d *EventDispatcher) State() State {
	return d.core.State()
}

// Outcome returns the settled outcome and true, or a zero Outcome and
// false while pending.
func (d *EventDispatcher) Outcome() (Outcome, bool) {
	return d.core.Outcome()
}

// Chain subscribes f so that its success requests End (honoring in-flight
// gating) and its failure cancels. See [Dispatcher.Chain].
func (d *EventDispatcher) Chain(f Future) error {
	return chainInto(d, f)
}

// Adopt bridges this dispatcher and other: other's outcome drives this
// dispatcher's End/Cancel (End honoring in-flight gating), and this
// dispatcher's outcome is applied to other. See [Dispatcher.Adopt].
func (d *EventDispatcher) Adopt(other *Dispatcher) error {
	return adoptInto(d, d.core, other)
}

// Short races f against this dispatcher's cancellation. See
// [Dispatcher.Short].
func (d *EventDispatcher) Short(f Future) (Future, error) {
	return d.core.Short(f)
}

// asError converts a recovered panic value to an error.
func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return PanicError{Value: r}
}
