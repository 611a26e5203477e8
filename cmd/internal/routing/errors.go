package routing

import "errors"

var (
	// ErrArgument is wrapped by every *ArgumentError.
	ErrArgument = errors.New("routing: invalid argument")

	// ErrLifecycle is returned by registration calls made after AddListeners.
	ErrLifecycle = errors.New("routing: listeners already bound")
)

// ArgumentError reports a rejected registration.
type ArgumentError struct {
	Op     string
	Reason string
}

func (e *ArgumentError) Error() string {
	return "routing: " + e.Op + ": " + e.Reason
}

func (e *ArgumentError) Unwrap() error { return ErrArgument }

func argErr(op, reason string) error {
	return &ArgumentError{Op: op, Reason: reason}
}
