// Package server speaks the versioned client protocol. Each client gets a
// Session that negotiates a message version, lifts requests to the current
// version for the device manager and lowers replies and events back.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/protocol"
	"github.com/urmzd/plugd/pkg/message"
)

// Devices is the device manager surface a session drives.
type Devices interface {
	message.DeviceLookup
	device.EventSubscriber

	Devices() []*device.DeviceDefinition
	StartScanning(ctx context.Context) error
	StopScanning(ctx context.Context) error
	Output(ctx context.Context, index uint32, requests []device.OutputRequest) error
	StopDevice(ctx context.Context, index uint32) error
	StopAllDevices(ctx context.Context) error
	Input(ctx context.Context, index, featureIndex uint32, t device.InputType, cmd device.InputCommand) (device.InputReading, error)
	RawWrite(ctx context.Context, index uint32, ep hardware.Endpoint, data []byte, withResponse bool) error
	RawRead(ctx context.Context, index uint32, ep hardware.Endpoint, expected int, timeout time.Duration) ([]byte, error)
	RawSubscribe(ctx context.Context, index uint32, ep hardware.Endpoint) error
	RawUnsubscribe(ctx context.Context, index uint32, ep hardware.Endpoint) error
}

// Options configures the server.
type Options struct {
	Name string
	// MaxPingTime is the longest a client may go without a Ping. Zero
	// disables the watchdog.
	MaxPingTime time.Duration
	// LeaveDevicesRunning skips the stop-all when a client goes away.
	LeaveDevicesRunning bool
}

// DefaultName is reported in ServerInfo when Options.Name is empty.
const DefaultName = "plugd"

var (
	// ErrHandshake indicates a request before RequestServerInfo, or a second
	// RequestServerInfo.
	ErrHandshake = errors.New("handshake required")

	// ErrReservedID indicates a client message with the system id.
	ErrReservedID = errors.New("message id 0 is reserved for server events")

	// ErrUnexpected indicates a message clients may not send.
	ErrUnexpected = errors.New("not a client request")

	// ErrPingTimeout indicates the client stopped pinging.
	ErrPingTimeout = errors.New("ping timeout")

	// ErrClosed indicates the session has ended.
	ErrClosed = errors.New("session closed")
)

// Server creates client sessions over one device manager.
type Server struct {
	opts    Options
	devices Devices
}

// New creates a server.
func New(opts Options, devices Devices) *Server {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	return &Server{opts: opts, devices: devices}
}

// Code maps an error to the wire error class.
func Code(err error) message.ErrorCode {
	var perr *protocol.Error
	switch {
	case errors.Is(err, ErrHandshake):
		return message.ErrorInit
	case errors.Is(err, ErrPingTimeout):
		return message.ErrorPing
	case errors.Is(err, message.ErrConversion),
		errors.Is(err, message.ErrMalformed),
		errors.Is(err, message.ErrUnknownMessage),
		errors.Is(err, ErrReservedID),
		errors.Is(err, ErrUnexpected):
		return message.ErrorMsg
	case errors.Is(err, device.ErrNotFound),
		errors.Is(err, device.ErrInvalidFeature),
		errors.Is(err, device.ErrStepRange),
		errors.Is(err, device.ErrUnsupported),
		errors.Is(err, device.ErrNotConnected),
		errors.Is(err, hardware.ErrDisconnected),
		errors.Is(err, hardware.ErrTimeout),
		errors.Is(err, hardware.ErrEndpoint),
		errors.Is(err, protocol.ErrNotSubscribed),
		errors.As(err, &perr):
		return message.ErrorDevice
	}
	return message.ErrorUnknown
}
