// Package message holds the client wire model shared by every spec version:
// the message interface, the id header, messages whose shape never changed,
// the JSON envelope codec and conversion errors.
package message

import "fmt"

// SpecVersion is a generation of the client message schema.
type SpecVersion uint32

const (
	V0 SpecVersion = iota
	V1
	V2
	V3
	V4

	// Current is the version used internally by the server.
	Current = V4
)

func (v SpecVersion) String() string { return fmt.Sprintf("v%d", uint32(v)) }

// Valid reports whether v is a known version.
func (v SpecVersion) Valid() bool { return v <= Current }

// SystemID is the id of unsolicited server events.
const SystemID uint32 = 0

// Message is one tagged wire message.
type Message interface {
	MessageID() uint32
	SetMessageID(id uint32)
	// MessageName is the envelope key, e.g. "StopDeviceCmd".
	MessageName() string
}

// Header carries the message id every message has.
type Header struct {
	ID uint32 `json:"Id"`
}

func (h *Header) MessageID() uint32      { return h.ID }
func (h *Header) SetMessageID(id uint32) { h.ID = id }

// DeviceMessage is implemented by messages addressed to one device.
type DeviceMessage interface {
	Message
	TargetDevice() uint32
}

