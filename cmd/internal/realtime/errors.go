package realtime

import "errors"

var (
	// ErrClosed is returned when emitting on a connection or server that has shut down.
	ErrClosed = errors.New("realtime: closed")

	// ErrBackpressure is returned when a connection's send queue is full.
	ErrBackpressure = errors.New("realtime: send queue full")

	// ErrEventName is returned for an empty or reserved event name.
	ErrEventName = errors.New("realtime: invalid event name")
)

// HandshakeError lets a Middleware choose the HTTP status and error code of
// a rejected handshake. Other errors reject with 403 "forbidden".
type HandshakeError struct {
	Status int
	Code   string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Err.Error()
}

func (e *HandshakeError) Unwrap() error { return e.Err }
