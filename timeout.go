// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package dispatch

import (
	"sync"
	"time"
)

// Timeout is a lifecycle core that settles itself after a delay.
//
// The timer starts at construction. On expiry the configured result is
// applied: an error value cancels the core, anything else ends it. Calling
// [Timeout.End] or [Timeout.Cancel] before expiry stops and releases the
// timer and ends the core successfully with no value; for this
// specialization an early cancel is benign termination, not a failure.
// Only natural expiry can produce a failure outcome.
//
// Timeout embeds its core, so Finish, Wait, Short and the read accessors
// are available directly, and the core can be adopted by another
// dispatcher to compose a deadline. The core's cleanup action stops the
// timer, so settlement through any path releases it exactly once.
type Timeout struct {
	*Dispatcher

	timerMu sync.Mutex
	timer   *time.Timer
}

var _ completer = (*Timeout)(nil)

// NewTimeout creates a Timeout firing after delay with the given result.
// Returns [ErrNegativeDelay] for a negative delay. A zero delay is valid
// and fires as soon as the scheduler allows.
func NewTimeout(delay time.Duration, result Result, opts ...CoreOption) (*Timeout, error) {
	if delay < 0 {
		return nil, ErrNegativeDelay
	}
	cfg, err := resolveCoreOptions(opts)
	if err != nil {
		return nil, err
	}

	t := &Timeout{}
	userCleanup := cfg.cleanup
	t.Dispatcher = newCore(func() {
		t.stopTimer()
		if userCleanup != nil {
			userCleanup()
		}
	}, cfg.logger)

	// The lock covers assignment: an immediate expiry settles on the
	// timer goroutine and its cleanup blocks here until the handle is
	// stored.
	t.timerMu.Lock()
	t.timer = time.AfterFunc(delay, func() {
		t.expire(result)
	})
	t.timerMu.Unlock()
	return t, nil
}

func (t *Timeout) expire(result Result) {
	if err, ok := result.(error); ok && err != nil {
		t.Dispatcher.Cancel(err)
		return
	}
	t.Dispatcher.End(result)
}

func (t *Timeout) stopTimer() {
	t.timerMu.Lock()
	timer := t.timer
	t.timer = nil
	t.timerMu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// End terminates the timeout early: the timer is released and the core
// ends successfully with no value. The argument is ignored.
func (t *Timeout) End(_ Result) {
	t.Dispatcher.End(nil)
}

// Cancel terminates the timeout early, identically to [Timeout.End]: for
// a timeout, cancellation before expiry is benign normal termination. The
// argument is ignored.
func (t *Timeout) Cancel(_ error) {
	t.Dispatcher.End(nil)
}

// Chain subscribes f; either way it settles, the timeout terminates early
// and benignly, per [Timeout.End] and [Timeout.Cancel].
func (t *Timeout) Chain(f Future) error {
	return chainInto(t, f)
}

// Adopt bridges this timeout and other: other settling first terminates
// the timeout early and benignly, while the timeout settling first (e.g.
// expiring with its configured error) is applied to other. To give another
// dispatcher a deadline, prefer adopting from that side:
// d.Adopt(t.Dispatcher).
func (t *Timeout) Adopt(other *Dispatcher) error {
	return adoptInto(t, t.Dispatcher, other)
}
