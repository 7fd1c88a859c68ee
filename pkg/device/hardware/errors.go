package hardware

import "errors"

var (
	// ErrDisconnected indicates the device went away before or during an operation
	ErrDisconnected = errors.New("hardware disconnected")

	// ErrTimeout indicates a read or handshake did not complete in time
	ErrTimeout = errors.New("hardware operation timed out")

	// ErrEndpoint indicates the device does not expose the requested endpoint
	ErrEndpoint = errors.New("endpoint not available on device")

	// ErrUnknownEndpoint indicates an endpoint name outside the closed set
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrConnect indicates the transport could not open a connection
	ErrConnect = errors.New("hardware connect failed")
)
