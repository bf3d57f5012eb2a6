package dispatch

// HandlerFunc is a user callback invoked with an event's payload.
//
// Returning a non-nil [Future] keeps the handler in flight until the
// future settles; the in-flight count is not decremented before then, and
// a failed future cancels the dispatcher. Returning a non-nil error, or
// panicking, cancels the dispatcher immediately. Returning (nil, nil)
// means the handler finished synchronously.
type HandlerFunc func(args ...Result) (Future, error)

type handlerKind uint8

const (
	handlerUser handlerKind = iota
	handlerEnd
	handlerCancel
)

// Handler describes how [EventDispatcher.On] treats an event: either a
// user callback (see [Func]) or one of the built-in sentinels [AsEnd] and
// [AsCancel]. The zero Handler is invalid.
//
// Sentinels are values rather than reserved callback identities because Go
// function values cannot be compared.
type Handler struct {
	fn   HandlerFunc
	kind handlerKind
}

// Func wraps a user callback as a Handler.
func Func(fn HandlerFunc) Handler {
	return Handler{fn: fn}
}

var (
	// AsEnd requests that the event complete the dispatcher successfully,
	// with the event's first payload value (nil if the event carries no
	// payload) as the result.
	AsEnd = Handler{kind: handlerEnd}

	// AsCancel requests that the event cancel the dispatcher. The
	// cancellation reason is the event's first payload value if it is an
	// error, or an [EventError] wrapping the payload otherwise.
	AsCancel = Handler{kind: handlerCancel}
)

// firstArg returns the first payload value, or nil for an empty payload.
func firstArg(args []Result) Result {
	if len(args) > 0 {
		return args[0]
	}
	return nil
}

// errorFromArgs derives a cancellation reason from an event payload.
func errorFromArgs(event string, args []Result) error {
	if len(args) > 0 {
		if err, ok := args[0].(error); ok && err != nil {
			return err
		}
		return &EventError{Event: event, Value: args[0]}
	}
	return &EventError{Event: event}
}
