package dispatch

import (
	"sync"
)

// Listener is a callback registered on an [Emitter] for a named event.
// It receives the payload values passed to Emit.
type Listener func(args ...Result)

// ListenerID uniquely identifies a registered listener for removal
// purposes. Go functions cannot be reliably compared for equality, so
// registration hands out an ID instead.
type ListenerID uint64

// Emitter is the contract an event source must satisfy for consumption by
// [EventDispatcher]: registration and de-registration of listeners for
// named events. Delivery itself is the source's business; sources are
// expected to invoke listeners synchronously, in registration order, and
// to treat an unhandled "error" event as fatal by convention.
type Emitter interface {
	// On registers l for the named event and returns its removal token.
	On(event string, l Listener) ListenerID

	// Off removes the listener previously registered under id for the
	// named event, reporting whether a listener was removed.
	Off(event string, id ListenerID) bool
}

// listenerEntry pairs a listener with its removal token.
type listenerEntry struct {
	id   ListenerID
	fn   Listener
	once bool
}

// EventEmitter is an in-process [Emitter] with synchronous, ordered
// delivery.
//
// It is safe for concurrent use. Emit snapshots the listener list before
// dispatching, so listeners may register or remove listeners (including
// themselves) during delivery; such changes take effect for the next Emit.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	nextID    ListenerID
}

var _ Emitter = (*EventEmitter)(nil)

// NewEventEmitter creates an empty EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		listeners: make(map[string][]listenerEntry),
		nextID:    1,
	}
}

// On registers l for the named event. A nil listener is ignored and
// reports ID 0, which is never a valid removal token.
func (e *EventEmitter) On(event string, l Listener) ListenerID {
	return e.add(event, l, false)
}

// Once registers l for a single delivery; the listener is removed after
// the first event it receives.
func (e *EventEmitter) Once(event string, l Listener) ListenerID {
	return e.add(event, l, true)
}

func (e *EventEmitter) add(event string, l Listener, once bool) ListenerID {
	if l == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: id, fn: l, once: once})
	return id
}

// Off removes the listener registered under id for the named event,
// reporting whether a listener was removed. Removal is idempotent.
func (e *EventEmitter) Off(event string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(event, id)
}

func (e *EventEmitter) removeLocked(event string, id ListenerID) bool {
	entries := e.listeners[event]
	for i, entry := range entries {
		if entry.id == id {
			e.listeners[event] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Emit delivers the event to all listeners registered for it, in
// registration order, synchronously on the calling goroutine. It reports
// whether at least one listener was invoked. Listener panics propagate to
// the caller.
func (e *EventEmitter) Emit(event string, args ...Result) bool {
	e.mu.RLock()
	entries := make([]listenerEntry, len(e.listeners[event]))
	copy(entries, e.listeners[event])
	e.mu.RUnlock()

	var removeIDs []ListenerID
	for _, entry := range entries {
		if entry.once {
			removeIDs = append(removeIDs, entry.id)
		}
	}
	if len(removeIDs) > 0 {
		e.mu.Lock()
		for _, id := range removeIDs {
			e.removeLocked(event, id)
		}
		e.mu.Unlock()
	}

	for _, entry := range entries {
		entry.fn(args...)
	}
	return len(entries) > 0
}

// ListenerCount returns the number of listeners currently registered for
// the named event.
func (e *EventEmitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// RemoveAllListeners removes every listener for the named event, or every
// listener for every event if event is empty.
func (e *EventEmitter) RemoveAllListeners(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if event == "" {
		e.listeners = make(map[string][]listenerEntry)
		return
	}
	delete(e.listeners, event)
}
