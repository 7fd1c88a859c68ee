package v1

import (
	"github.com/urmzd/plugd/pkg/message"
	v0 "github.com/urmzd/plugd/pkg/message/v0"
)

// FromV0 upgrades a v0 message. Device descriptions are rebuilt from the
// live definition since v0 lacks feature counts.
func FromV0(msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	switch m := msg.(type) {
	case *v0.LovenseCmd, *v0.KiirooCmd:
		return nil, message.Unconvertible(msg, v0.Version, Version, message.ReasonVendorCommand)
	case *v0.DeviceAdded:
		def, err := ctx.Device(m.DeviceIndex)
		if err != nil {
			return nil, err
		}
		return &DeviceAdded{Header: m.Header, DeviceMessageInfo: DeviceInfo(def)}, nil
	case *v0.DeviceList:
		out := &DeviceList{Header: m.Header, Devices: make([]DeviceMessageInfo, 0, len(m.Devices))}
		for _, d := range m.Devices {
			def, err := ctx.Device(d.DeviceIndex)
			if err != nil {
				return nil, err
			}
			out.Devices = append(out.Devices, DeviceInfo(def))
		}
		return out, nil
	}
	return message.Pass(msg, v0.Version, Version, Messages)
}

// ToV0 downgrades a v1 message. Generic actuator commands have no v0 form.
func ToV0(msg message.Message, _ message.ConversionContext) (message.Message, error) {
	switch m := msg.(type) {
	case *DeviceAdded:
		return &v0.DeviceAdded{Header: m.Header, DeviceMessageInfo: downgradeInfo(m.DeviceMessageInfo)}, nil
	case *DeviceList:
		out := &v0.DeviceList{Header: m.Header, Devices: make([]v0.DeviceMessageInfo, 0, len(m.Devices))}
		for _, d := range m.Devices {
			out.Devices = append(out.Devices, downgradeInfo(d))
		}
		return out, nil
	}
	return message.Pass(msg, Version, v0.Version, v0.Messages)
}

func downgradeInfo(d DeviceMessageInfo) v0.DeviceMessageInfo {
	supported := make(map[string]bool, len(d.DeviceMessages))
	for name := range d.DeviceMessages {
		supported[name] = true
	}
	return v0.DeviceMessageInfo{
		DeviceIndex:    d.DeviceIndex,
		DeviceName:     d.DeviceName,
		DeviceMessages: v0.Ordered(supported),
	}
}
