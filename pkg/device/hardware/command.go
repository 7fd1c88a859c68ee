package hardware

import "time"

// Command is one transport-level operation produced by a protocol handler.
type Command interface {
	Target() Endpoint
	isCommand()
}

// WriteCmd writes Data to an endpoint.
type WriteCmd struct {
	Endpoint          Endpoint
	Data              []byte
	WriteWithResponse bool
}

// ReadCmd reads up to ExpectedLength bytes from an endpoint. A zero Timeout
// means the transport default.
type ReadCmd struct {
	Endpoint       Endpoint
	ExpectedLength int
	Timeout        time.Duration
}

// SubscribeCmd enables notifications on an endpoint.
type SubscribeCmd struct {
	Endpoint Endpoint
}

// UnsubscribeCmd disables notifications on an endpoint.
type UnsubscribeCmd struct {
	Endpoint Endpoint
}

func (c WriteCmd) Target() Endpoint       { return c.Endpoint }
func (c ReadCmd) Target() Endpoint        { return c.Endpoint }
func (c SubscribeCmd) Target() Endpoint   { return c.Endpoint }
func (c UnsubscribeCmd) Target() Endpoint { return c.Endpoint }

func (WriteCmd) isCommand()       {}
func (ReadCmd) isCommand()        {}
func (SubscribeCmd) isCommand()   {}
func (UnsubscribeCmd) isCommand() {}

// Write builds a WriteCmd.
func Write(ep Endpoint, data []byte, withResponse bool) WriteCmd {
	return WriteCmd{Endpoint: ep, Data: data, WriteWithResponse: withResponse}
}

// Writes is shorthand for a single-element command list.
func Writes(ep Endpoint, data []byte, withResponse bool) []Command {
	return []Command{Write(ep, data, withResponse)}
}
