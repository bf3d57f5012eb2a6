package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is the failure reason used when Cancel is called with a
	// nil error, and when a Failed future is constructed from nil.
	ErrCancelled = errors.New("dispatch: cancelled")

	// ErrNilSource is returned by NewEventDispatcher for a nil event source.
	ErrNilSource = errors.New("dispatch: nil event source")

	// ErrNilFuture is returned by Chain and Short for a nil future.
	ErrNilFuture = errors.New("dispatch: nil future")

	// ErrNilDispatcher is returned by Adopt for a nil dispatcher.
	ErrNilDispatcher = errors.New("dispatch: nil dispatcher")

	// ErrAdoptSelf is returned by Adopt when a dispatcher is asked to
	// bridge its own outcome to itself.
	ErrAdoptSelf = errors.New("dispatch: cannot adopt self")

	// ErrNilHandler is returned by EventDispatcher.On when the handler is
	// neither a callback nor one of the AsEnd/AsCancel sentinels.
	ErrNilHandler = errors.New("dispatch: handler is neither a callback nor a sentinel")

	// ErrNegativeDelay is returned by NewTimeout for a negative delay.
	ErrNegativeDelay = errors.New("dispatch: negative delay")

	// ErrGoexit rejects a future whose goroutine exits via runtime.Goexit
	// without settling.
	ErrGoexit = errors.New("dispatch: goroutine exited via runtime.Goexit")
)

// PanicError wraps a panic value recovered from a handler, a Go future
// body, or internal bookkeeping. It is delivered as a cancellation reason,
// never re-panicked.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("dispatch: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] through the cause chain.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// EventError is the cancellation reason produced when an event is treated
// as a failure but its payload is not an error value (or is absent).
type EventError struct {
	// Event is the name of the event that produced the failure.
	Event string
	// Value is the event's first payload value, possibly nil.
	Value any
}

// Error implements the error interface.
func (e *EventError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("dispatch: %q event", e.Event)
	}
	return fmt.Sprintf("dispatch: %q event: %v", e.Event, e.Value)
}

// TeardownError reports a failure of the dispatcher's own bookkeeping,
// typically a panic raised by the event source while listeners were being
// removed. It is delivered through the completion handle like any other
// failure.
type TeardownError struct {
	Cause error
}

// Error implements the error interface.
func (e *TeardownError) Error() string {
	return fmt.Sprintf("dispatch: teardown failed: %v", e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TeardownError) Unwrap() error {
	return e.Cause
}
