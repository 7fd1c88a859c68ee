package device

import "errors"

var (
	// ErrNotFound indicates a device was not found
	ErrNotFound = errors.New("device not found")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrNotConnected indicates the controller has no transports available
	ErrNotConnected = errors.New("controller not connected")

	// ErrUnsupported indicates an operation is not supported by the device
	ErrUnsupported = errors.New("operation not supported")

	// ErrValidation indicates a document or payload failed validation
	ErrValidation = errors.New("validation error")

	// ErrStepRange indicates a value outside a feature's step range
	ErrStepRange = errors.New("value outside step range")

	// ErrInvalidFeature indicates a bad feature index or a feature that
	// cannot take the requested command
	ErrInvalidFeature = errors.New("invalid feature")

	// ErrDenied indicates the user configuration denies the device
	ErrDenied = errors.New("device denied by user configuration")
)
