// Package dispatch provides a cancellable, composable unit of asynchronous
// completion, built around a single-assignment outcome cell.
//
// The central type is [Dispatcher]: it is created pending, and transitions
// exactly once to either an ended (success) or cancelled (failure) outcome.
// Any number of observers may await the outcome via [Dispatcher.Finish] or
// [Dispatcher.Wait]; all of them observe the identical result. A cleanup
// action, if configured, runs exactly once on the winning transition,
// regardless of which branch won.
//
// # Composition
//
// Dispatchers compose through three operators:
//
//   - [Dispatcher.Chain] subscribes an external [Future] so that its success
//     ends the dispatcher and its failure cancels it.
//   - [Dispatcher.Adopt] bridges two dispatchers both ways: whichever settles
//     first determines the outcome of both.
//   - [Dispatcher.Short] races a [Future] against the dispatcher's own
//     cancellation, letting a caller stop awaiting long-running work as soon
//     as the dispatcher is cancelled.
//
// # Consuming Events
//
// [EventDispatcher] layers event consumption on top of the core. It attaches
// listeners to an [Emitter], tracks them for exactly-once removal, counts
// event-triggered asynchronous work in flight, and guarantees that a
// requested end is not granted while such work is still running. Cancellation
// is never gated: it takes effect immediately, and [Dispatcher.Short] exists
// so that handler bodies can notice it cooperatively.
//
// An "error" event on the source is wired to cancellation automatically.
// That wiring outlives general listener teardown by one step: it stays active
// until the first completion observer has been served, then it is removed
// (unless [WithKeepErrorListener] requested otherwise).
//
// A concrete in-process [EventEmitter] is included; any source satisfying
// [Emitter] works.
//
// # Timeouts
//
// [Timeout] is a minimal consumer of the core: it ends or cancels after a
// delay, depending on the configured result. Neither the core nor
// [EventDispatcher] has a built-in deadline; composing one is done explicitly
// by constructing a [Timeout] and adopting it.
//
// # Error Handling
//
// Constructors and operators report invalid arguments synchronously, as
// ordinary errors. Every failure after successful construction, whether an
// error passed to Cancel, an error returned or panicked by a handler, an
// "error" event from the source, or a failure of the dispatcher's own
// bookkeeping, is delivered through the completion handle instead. The first
// failure wins; later failures are discarded.
package dispatch
