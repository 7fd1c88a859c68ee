package protocol

import (
	"errors"
	"fmt"
)

// ErrHandshake indicates a vendor handshake produced an unexpected reply.
var ErrHandshake = errors.New("handshake failed")

// ErrNotSubscribed indicates an unsubscribe without a matching subscribe.
var ErrNotSubscribed = errors.New("not subscribed")

// Error wraps a failure with the protocol that raised it.
type Error struct {
	Protocol string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	msg := "protocol " + e.Protocol
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted detail.
func Errorf(protocol string, err error, format string, args ...any) *Error {
	return &Error{Protocol: protocol, Detail: fmt.Sprintf(format, args...), Err: err}
}
