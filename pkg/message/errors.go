package message

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an Error reply.
type ErrorCode uint32

const (
	ErrorUnknown ErrorCode = iota
	ErrorInit
	ErrorPing
	ErrorMsg
	ErrorDevice
)

var errorCodeNames = [...]string{"ERROR_UNKNOWN", "ERROR_INIT", "ERROR_PING", "ERROR_MSG", "ERROR_DEVICE"}

func (c ErrorCode) String() string {
	if int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("ERROR_%d", uint32(c))
}

var (
	// ErrConversion matches every *ConversionError.
	ErrConversion = errors.New("message conversion failed")

	// ErrMalformed indicates a frame that is not valid envelope JSON.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownMessage indicates a name no version defines.
	ErrUnknownMessage = errors.New("unknown message")
)

// ConversionError reports a message that has no equivalent in the target
// version, or that can never be converted.
type ConversionError struct {
	Name     string
	From, To SpecVersion
	Reason   string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s from %s to %s: %s", e.Name, e.From, e.To, e.Reason)
}

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// Unconvertible builds a ConversionError for msg.
func Unconvertible(msg Message, from, to SpecVersion, reason string) *ConversionError {
	return &ConversionError{Name: msg.MessageName(), From: from, To: to, Reason: reason}
}

// NewError builds an Error reply.
func NewError(id uint32, code ErrorCode, err error) *Error {
	return &Error{Header: Header{ID: id}, ErrorMessage: err.Error(), ErrorCode: code}
}

// ReasonVendorCommand is the conversion failure for messages that carried
// vendor strings to hardware. They are rejected in every version.
const ReasonVendorCommand = "vendor passthrough commands are not supported"
