package dispatcher

import "errors"

// Domain errors for the dispatcher package.
var (
	// ErrTransportExists is returned when registering a second backend
	// for the same transport kind.
	ErrTransportExists = errors.New("dispatcher: transport already registered")

	// ErrTransportNotFound is returned when a transport kind has no
	// registered backend.
	ErrTransportNotFound = errors.New("dispatcher: transport not registered")

	// ErrNoTransport is returned when no backend is connected and the
	// command cannot be buffered.
	ErrNoTransport = errors.New("dispatcher: no transport available")

	// ErrStopped is returned when the dispatcher is used after Stop.
	ErrStopped = errors.New("dispatcher: stopped")
)
