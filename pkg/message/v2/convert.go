package v2

import (
	"github.com/urmzd/plugd/pkg/message"
	v0 "github.com/urmzd/plugd/pkg/message/v0"
	v1 "github.com/urmzd/plugd/pkg/message/v1"
)

// FromV1 upgrades a v1 message.
func FromV1(msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	switch m := msg.(type) {
	case *v0.LovenseCmd, *v0.KiirooCmd:
		return nil, message.Unconvertible(msg, v1.Version, Version, message.ReasonVendorCommand)
	case *v1.DeviceAdded:
		def, err := ctx.Device(m.DeviceIndex)
		if err != nil {
			return nil, err
		}
		return &DeviceAdded{Header: m.Header, DeviceMessageInfo: DeviceInfo(def)}, nil
	case *v1.DeviceList:
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
	return message.Pass(msg, v1.Version, Version, Messages)
}

// ToV1 downgrades a v2 message. Sensor, raw and step count information has
// no v1 form and is dropped from device descriptions.
func ToV1(msg message.Message, _ message.ConversionContext) (message.Message, error) {
	switch m := msg.(type) {
	case *DeviceAdded:
		return &v1.DeviceAdded{Header: m.Header, DeviceMessageInfo: downgradeInfo(m.DeviceMessageInfo)}, nil
	case *DeviceList:
		out := &v1.DeviceList{Header: m.Header, Devices: make([]v1.DeviceMessageInfo, 0, len(m.Devices))}
		for _, d := range m.Devices {
			out.Devices = append(out.Devices, downgradeInfo(d))
		}
		return out, nil
	}
	return message.Pass(msg, Version, v1.Version, v1.Messages)
}

func downgradeInfo(d DeviceMessageInfo) v1.DeviceMessageInfo {
	msgs := make(map[string]v1.MessageAttributes, len(d.DeviceMessages))
	for name, a := range d.DeviceMessages {
		if _, ok := v1.Messages[name]; !ok {
			continue
		}
		msgs[name] = v1.MessageAttributes{FeatureCount: a.FeatureCount}
	}
	return v1.DeviceMessageInfo{DeviceIndex: d.DeviceIndex, DeviceName: d.DeviceName, DeviceMessages: msgs}
}
