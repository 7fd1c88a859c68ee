package device

import "context"

// OutputRequest asks one feature to take a step value. Clockwise applies to
// RotateWithDirection; Duration (ms) applies to PositionWithDuration.
type OutputRequest struct {
	FeatureIndex uint32     `json:"feature_index"`
	Type         OutputType `json:"type"`
	Value        int32      `json:"value"`
	Clockwise    bool       `json:"clockwise,omitempty"`
	Duration     uint32     `json:"duration,omitempty"`
}

// Controller is the device-facing surface used by the HTTP and MCP layers.
type Controller interface {
	// ListDevices returns every live device
	ListDevices(ctx context.Context) ([]DeviceDefinition, error)

	// GetDevice returns a single device by index
	GetDevice(ctx context.Context, index uint32) (*DeviceDefinition, error)

	// StartScanning starts discovery on every transport
	StartScanning(ctx context.Context) error

	// StopScanning stops discovery on every transport
	StopScanning(ctx context.Context) error

	// Output sends a batch of output requests to one device
	Output(ctx context.Context, index uint32, requests []OutputRequest) error

	// StopDevice drives every stoppable output of a device to zero
	StopDevice(ctx context.Context, index uint32) error

	// StopAllDevices stops every device
	StopAllDevices(ctx context.Context) error

	// ReadInput performs a one-shot sensor read
	ReadInput(ctx context.Context, index, featureIndex uint32, inputType InputType) (InputReading, error)

	// IsScanning returns true while any transport is scanning
	IsScanning() bool

	// IsConnected returns true if at least one transport is available
	IsConnected() bool

	// Close disconnects every device
	Close()
}

// EventSubscriber defines the interface for subscribing to device events
type EventSubscriber interface {
	// Subscribe returns a channel that receives device events
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription
	Unsubscribe(ch <-chan Event)
}
