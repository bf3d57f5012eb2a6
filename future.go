package dispatch

// Go runs fn in a new goroutine and returns a [Future] for its result.
//
// A non-nil error rejects the future; otherwise it resolves with the
// returned value. Panics are recovered and delivered as a [PanicError]
// rejection, and a goroutine that exits via runtime.Goexit without
// returning rejects with [ErrGoexit], so the future always settles.
func Go(fn func() (Result, error)) Future {
	d := newCore(nil, nil)
	go func() {
		completed := false
		defer func() {
			if r := recover(); r != nil {
				d.Cancel(PanicError{Value: r})
			} else if !completed {
				d.Cancel(ErrGoexit)
			}
		}()
		v, err := fn()
		completed = true
		if err != nil {
			d.Cancel(err)
		} else {
			d.End(v)
		}
	}()
	return d
}

// Resolved returns a future already settled with the given value.
func Resolved(v Result) Future {
	d := newCore(nil, nil)
	d.End(v)
	return d
}

// Failed returns a future already settled with the given error. A nil err
// is normalized to [ErrCancelled].
func Failed(err error) Future {
	d := newCore(nil, nil)
	d.Cancel(err)
	return d
}
