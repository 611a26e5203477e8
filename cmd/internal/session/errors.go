package session

import "errors"

var (
	// ErrNotInitialized is returned by Save on the unresolved placeholder.
	ErrNotInitialized = errors.New("session is not initialized: init it with a classic HTTP request")

	// ErrDestroyed is returned by Save after Destroy.
	ErrDestroyed = errors.New("session destroyed")

	// ErrNotFound is returned by Store.Get when no live document exists for the id.
	ErrNotFound = errors.New("session not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
