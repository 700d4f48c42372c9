package transport

import "errors"

// Domain errors for the transport package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, transport.ErrNotConnected) {
//	    // buffer the command for later
//	}
var (
	// ErrNotConnected is returned when a command is sent over a transport
	// that has no active connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrNotInitialized is returned when a transport is used before Init.
	ErrNotInitialized = errors.New("transport: not initialized")

	// ErrAlreadyInitialized is returned when Init is called twice.
	ErrAlreadyInitialized = errors.New("transport: already initialized")

	// ErrShutdown is returned when a transport is used after Shutdown.
	ErrShutdown = errors.New("transport: shut down")

	// ErrTimeout is returned when a command does not complete within its
	// deadline.
	ErrTimeout = errors.New("transport: command timed out")

	// ErrDeviceUnreachable is returned when the target device does not
	// respond on this transport.
	ErrDeviceUnreachable = errors.New("transport: device unreachable")

	// ErrUnsupported is returned when a backend does not implement an
	// optional operation, such as discovery.
	ErrUnsupported = errors.New("transport: operation not supported")

	// ErrInvalidPriority is returned when a command carries an unknown
	// priority value.
	ErrInvalidPriority = errors.New("transport: invalid priority")

	// ErrInvalidCommand is returned when command validation fails.
	ErrInvalidCommand = errors.New("transport: invalid command")
)
