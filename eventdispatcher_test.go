package dispatch

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// pollUntil spins until cond holds, failing the test after a deadline.
func pollUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEventDispatcher_NilSource(t *testing.T) {
	if _, err := NewEventDispatcher(nil); !errors.Is(err, ErrNilSource) {
		t.Errorf("expected ErrNilSource, got %v", err)
	}
}

func TestEventDispatcher_InstallsErrorListener(t *testing.T) {
	src := NewEventEmitter()
	if _, err := NewEventDispatcher(src); err != nil {
		t.Fatalf("NewEventDispatcher failed: %v", err)
	}
	if src.ListenerCount("error") != 1 {
		t.Errorf("error listener count = %d, want 1", src.ListenerCount("error"))
	}
}

func TestEventDispatcher_OnInvalidHandler(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	if err := d.On("x", Handler{}); !errors.Is(err, ErrNilHandler) {
		t.Errorf("zero Handler: expected ErrNilHandler, got %v", err)
	}
	if err := d.On("x", Func(nil)); !errors.Is(err, ErrNilHandler) {
		t.Errorf("nil callback: expected ErrNilHandler, got %v", err)
	}
	if src.ListenerCount("x") != 0 {
		t.Error("invalid handlers must not register listeners")
	}
}

func TestEventDispatcher_EndImmediate(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	d.End("done")
	o := waitOutcome(t, d)
	if o.Err != nil || o.Value != "done" {
		t.Errorf("got %+v", o)
	}
}

func TestEventDispatcher_AsEndSentinel(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)
	if err := d.On("finish", AsEnd); err != nil {
		t.Fatalf("On failed: %v", err)
	}

	src.Emit("finish", "payload")
	o := waitOutcome(t, d)
	if o.Err != nil || o.Value != "payload" {
		t.Errorf("got %+v", o)
	}
	// Listener teardown is synchronous with completion: a second emission
	// reaches nobody.
	if src.ListenerCount("finish") != 0 {
		t.Error("tracked listeners should have been removed on completion")
	}
}

func TestEventDispatcher_AsEndSentinelNoPayload(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)
	_ = d.On("finish", AsEnd)

	src.Emit("finish")
	o := waitOutcome(t, d)
	if o.Err != nil || o.Value != nil {
		t.Errorf("payload-less end event should succeed with no value, got %+v", o)
	}
}

func TestEventDispatcher_AsCancelSentinel(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)
	_ = d.On("abort", AsCancel)

	boom := errors.New("boom")
	src.Emit("abort", boom)
	if o := waitOutcome(t, d); !errors.Is(o.Err, boom) {
		t.Errorf("got %v, want %v", o.Err, boom)
	}
}

func TestEventDispatcher_ErrorEventCancels(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	boom := errors.New("source exploded")
	src.Emit("error", boom)
	if o := waitOutcome(t, d); !errors.Is(o.Err, boom) {
		t.Errorf("got %v, want %v", o.Err, boom)
	}
}

func TestEventDispatcher_ErrorEventNonErrorPayload(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	src.Emit("error", "not an error value")
	o := waitOutcome(t, d)
	var ee *EventError
	if !errors.As(o.Err, &ee) {
		t.Fatalf("expected EventError, got %v", o.Err)
	}
	if ee.Event != "error" || ee.Value != "not an error value" {
		t.Errorf("got %+v", ee)
	}
}

// The core correctness property of the event layer: an end request while a
// handler's asynchronous work is still running is deferred until that work
// completes, then honored with the originally requested result.
func TestEventDispatcher_EndDeferredUntilInFlightDrains(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	var counter atomic.Int32
	err := d.On("x", Func(func(args ...Result) (Future, error) {
		return Go(func() (Result, error) {
			time.Sleep(10 * time.Millisecond)
			counter.Add(1)
			return nil, nil
		}), nil
	}))
	if err != nil {
		t.Fatalf("On failed: %v", err)
	}

	src.Emit("x")
	d.End("done")

	// Listeners are gone as soon as End returns, granted or not.
	if src.ListenerCount("x") != 0 {
		t.Error("End must remove tracked listeners synchronously")
	}
	src.Emit("x") // reaches nobody

	assertNotSettled(t, d, 5*time.Millisecond)
	o := waitOutcome(t, d)
	if o.Err != nil || o.Value != "done" {
		t.Errorf("got %+v", o)
	}
	if counter.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", counter.Load())
	}
}

func TestEventDispatcher_PendingEndFirstResultWins(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	release := make(chan struct{})
	_ = d.On("x", Func(func(args ...Result) (Future, error) {
		return Go(func() (Result, error) {
			<-release
			return nil, nil
		}), nil
	}))

	src.Emit("x")
	d.End("first")
	d.End("second")
	close(release)

	if o := waitOutcome(t, d); o.Value != "first" {
		t.Errorf("got %v, want the first requested result", o.Value)
	}
}

func TestEventDispatcher_CancelNotGatedByInFlight(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	release := make(chan struct{})
	defer close(release)
	_ = d.On("x", Func(func(args ...Result) (Future, error) {
		return Go(func() (Result, error) {
			<-release
			return nil, nil
		}), nil
	}))

	src.Emit("x")
	boom := errors.New("boom")
	d.Cancel(boom)

	// Settles immediately, while the handler is still blocked.
	if o := waitOutcome(t, d); !errors.Is(o.Err, boom) {
		t.Errorf("got %v, want %v", o.Err, boom)
	}
}

func TestEventDispatcher_HandlerSyncErrorCancels(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	boom := errors.New("handler failed")
	_ = d.On("x", Func(func(args ...Result) (Future, error) {
		return nil, boom
	}))

	src.Emit("x")
	if o := waitOutcome(t, d); !errors.Is(o.Err, boom) {
		t.Errorf("got %v, want %v", o.Err, boom)
	}
}

func TestEventDispatcher_HandlerPanicCancels(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	_ = d.On("x", Func(func(args ...Result) (Future, error) {
		panic("handler exploded")
	}))

	src.Emit("x") // must not panic through Emit's caller
	o := waitOutcome(t, d)
	var pe PanicError
	if !errors.As(o.Err, &pe) {
		t.Fatalf("expected PanicError, got %v", o.Err)
	}
}

func TestEventDispatcher_AsyncHandlerFailureCancels(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	boom := errors.New("async boom")
	_ = d.On("x", Func(func(args ...Result) (Future, error) {
		return Failed(boom), nil
	}))

	src.Emit("x")
	if o := waitOutcome(t, d); !errors.Is(o.Err, boom) {
		t.Errorf("got %v, want %v", o.Err, boom)
	}
}

func TestEventDispatcher_HandlerPayload(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	var got []Result
	_ = d.On("x", Func(func(args ...Result) (Future, error) {
		got = append([]Result(nil), args...)
		return nil, nil
	}))

	src.Emit("x", 1, "two")
	d.End(nil)
	waitOutcome(t, d)
	if len(got) != 2 || got[0] != 1 || got[1] != "two" {
		t.Errorf("payload = %v", got)
	}
}

func TestEventDispatcher_OnAfterCompletionIgnored(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)
	d.End(nil)
	waitOutcome(t, d)

	if err := d.On("late", Func(func(args ...Result) (Future, error) { return nil, nil })); err != nil {
		t.Errorf("late registration should be ignored, not fail: %v", err)
	}
	if src.ListenerCount("late") != 0 {
		t.Error("late registration must not leak a listener")
	}
}

func TestEventDispatcher_DeferredErrorListenerRemoval(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	d.End(nil)
	// Error wiring survives core settlement; only the first served
	// observer triggers its removal.
	if src.ListenerCount("error") != 1 {
		t.Fatal("error listener should survive until the completion handle is observed")
	}

	waitOutcome(t, d)
	pollUntil(t, func() bool { return src.ListenerCount("error") == 0 },
		"error listener was not removed after the first observation")
}

func TestEventDispatcher_KeepErrorListener(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src, WithKeepErrorListener(true))

	d.End(nil)
	waitOutcome(t, d)
	time.Sleep(20 * time.Millisecond)
	if src.ListenerCount("error") != 1 {
		t.Error("error listener should persist with WithKeepErrorListener")
	}
}

func TestEventDispatcher_CleanupOption(t *testing.T) {
	src := NewEventEmitter()
	var runs atomic.Int32
	d, _ := NewEventDispatcher(src, WithCleanup(func() { runs.Add(1) }))
	_ = d.On("x", Func(func(args ...Result) (Future, error) { return nil, nil }))

	d.Cancel(errors.New("boom"))
	waitOutcome(t, d)
	if runs.Load() != 1 {
		t.Errorf("cleanup ran %d times, want 1", runs.Load())
	}
	// The cleanup already ran by the time the observer resumed, after
	// listener teardown.
	if src.ListenerCount("x") != 0 {
		t.Error("listeners should be gone on the cancellation path too")
	}

	d.End(nil)
	if runs.Load() != 1 {
		t.Error("cleanup must not run again")
	}
}

// faultyEmitter panics on removal, exercising the internal-failure path.
type faultyEmitter struct {
	inner *EventEmitter
}

func (f *faultyEmitter) On(event string, l Listener) ListenerID {
	return f.inner.On(event, l)
}

func (f *faultyEmitter) Off(event string, id ListenerID) bool {
	panic("source refused removal")
}

func TestEventDispatcher_TeardownPanicRoutedToHandle(t *testing.T) {
	src := &faultyEmitter{inner: NewEventEmitter()}
	d, err := NewEventDispatcher(src)
	if err != nil {
		t.Fatalf("NewEventDispatcher failed: %v", err)
	}
	_ = d.On("x", Func(func(args ...Result) (Future, error) { return nil, nil }))

	d.End("never granted") // must not panic
	o := waitOutcome(t, d)
	var te *TeardownError
	if !errors.As(o.Err, &te) {
		t.Fatalf("expected TeardownError, got %v", o.Err)
	}
}

func TestEventDispatcher_AdoptTimeoutDeadline(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	deadline := errors.New("deadline exceeded")
	to, err := NewTimeout(10*time.Millisecond, deadline)
	if err != nil {
		t.Fatalf("NewTimeout failed: %v", err)
	}
	if err := d.Adopt(to.Dispatcher); err != nil {
		t.Fatalf("Adopt failed: %v", err)
	}

	if o := waitOutcome(t, d); !errors.Is(o.Err, deadline) {
		t.Errorf("got %v, want %v", o.Err, deadline)
	}
}

func TestEventDispatcher_ShortLetsHandlersBailOut(t *testing.T) {
	src := NewEventEmitter()
	d, _ := NewEventDispatcher(src)

	slow, _ := New() // stands in for long-running work that never finishes
	short, err := d.Short(slow)
	if err != nil {
		t.Fatalf("Short failed: %v", err)
	}

	boom := errors.New("boom")
	d.Cancel(boom)
	if o := waitOutcome(t, short); !errors.Is(o.Err, boom) {
		t.Errorf("got %v, want %v", o.Err, boom)
	}
}
