package message

import (
	"fmt"

	"github.com/urmzd/plugd/pkg/device"
)

// DeviceLookup resolves a device index to its live definition.
type DeviceLookup interface {
	Device(index uint32) (*device.DeviceDefinition, error)
}

// ConversionContext carries what context-dependent conversions need:
// device definitions for index mapping, and for replies, the client
// request being answered in the client's own version.
type ConversionContext struct {
	Devices DeviceLookup
	Request Message
}

// Device looks index up, failing when no lookup is attached.
func (c ConversionContext) Device(index uint32) (*device.DeviceDefinition, error) {
	if c.Devices == nil {
		return nil, fmt.Errorf("%w: index %d", device.ErrNotFound, index)
	}
	return c.Devices.Device(index)
}
