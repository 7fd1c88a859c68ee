package v3

import (
	"fmt"
	"math"

	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/message"
	v0 "github.com/urmzd/plugd/pkg/message/v0"
	v1 "github.com/urmzd/plugd/pkg/message/v1"
	v2 "github.com/urmzd/plugd/pkg/message/v2"
)

// FromV2 upgrades a v2 message. Device-family commands become the generic
// command for the same actuators.
func FromV2(msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	switch m := msg.(type) {
	case *v0.LovenseCmd, *v0.KiirooCmd:
		return nil, message.Unconvertible(msg, v2.Version, Version, message.ReasonVendorCommand)

	case *v2.DeviceAdded:
		def, err := ctx.Device(m.DeviceIndex)
		if err != nil {
			return nil, err
		}
		return &DeviceAdded{Header: m.Header, DeviceMessageInfo: DeviceInfo(def)}, nil

	case *v2.DeviceList:
		out := &DeviceList{Header: m.Header, Devices: make([]DeviceMessageInfo, 0, len(m.Devices))}
		for _, d := range m.Devices {
			def, err := ctx.Device(d.DeviceIndex)
			if err != nil {
				return nil, err
			}
			out.Devices = append(out.Devices, DeviceInfo(def))
		}
		return out, nil

	case *v0.SingleMotorVibrateCmd:
		def, err := ctx.Device(m.DeviceIndex)
		if err != nil {
			return nil, err
		}
		n := len(message.FeaturesWith(def.Features, device.OutputVibrate))
		if n == 0 {
			return nil, fmt.Errorf("%w: device %d has no vibrators", device.ErrUnsupported, m.DeviceIndex)
		}
		out := &v1.VibrateCmd{Header: m.Header, DeviceIndex: m.DeviceIndex}
		for i := 0; i < n; i++ {
			out.Speeds = append(out.Speeds, v1.VibrateSubcommand{Index: uint32(i), Speed: m.Speed})
		}
		return out, nil

	case *v0.VorzeA10CycloneCmd:
		if m.Speed > 99 {
			return nil, fmt.Errorf("%w: speed %d above 99", device.ErrStepRange, m.Speed)
		}
		return &v1.RotateCmd{Header: m.Header, DeviceIndex: m.DeviceIndex, Rotations: []v1.RotationSubcommand{
			{Index: 0, Speed: float64(m.Speed) / 99, Clockwise: m.Clockwise},
		}}, nil

	case *v0.FleshlightLaunchFW12Cmd:
		if m.Position > 99 || m.Speed > 99 {
			return nil, fmt.Errorf("%w: position %d speed %d above 99", device.ErrStepRange, m.Position, m.Speed)
		}
		return &v1.LinearCmd{Header: m.Header, DeviceIndex: m.DeviceIndex, Vectors: []v1.VectorSubcommand{
			{Index: 0, Duration: FleshlightDuration(m.Speed), Position: float64(m.Position) / 99},
		}}, nil

	case *v2.BatteryLevelCmd:
		return sensorRead(m.Header, m.DeviceIndex, device.InputBattery, ctx)

	case *v2.RSSILevelCmd:
		return sensorRead(m.Header, m.DeviceIndex, device.InputRSSI, ctx)
	}
	return message.Pass(msg, v2.Version, Version, Messages)
}

func sensorRead(h message.Header, index uint32, t device.InputType, ctx message.ConversionContext) (message.Message, error) {
	def, err := ctx.Device(index)
	if err != nil {
		return nil, err
	}
	for i, tg := range SensorTargets(def.Features, device.InputRead) {
		if tg.Type == t {
			return &SensorReadCmd{Header: h, DeviceIndex: index, SensorIndex: uint32(i), SensorType: t}, nil
		}
	}
	return nil, fmt.Errorf("%w: device %d has no readable %s sensor", device.ErrUnsupported, index, t)
}

// FleshlightDuration is the time a full stroke takes at speed (0..99).
func FleshlightDuration(speed uint32) uint32 {
	s := math.Max(1, float64(speed))
	mil := math.Pow(s/25000, -1/1.05)
	return uint32(math.Round(mil * 100 / 90))
}

// ToV2 downgrades a v3 message. Sensor readings survive only as replies to
// the v2 battery or signal requests that caused them.
func ToV2(msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	switch m := msg.(type) {
	case *DeviceAdded:
		return &v2.DeviceAdded{Header: m.Header, DeviceMessageInfo: downgradeInfo(m.DeviceMessageInfo)}, nil

	case *DeviceList:
		out := &v2.DeviceList{Header: m.Header, Devices: make([]v2.DeviceMessageInfo, 0, len(m.Devices))}
		for _, d := range m.Devices {
			out.Devices = append(out.Devices, downgradeInfo(d))
		}
		return out, nil

	case *SensorReading:
		if len(m.Data) == 0 {
			return nil, message.Unconvertible(msg, Version, v2.Version, "reading carries no data")
		}
		switch ctx.Request.(type) {
		case *v2.BatteryLevelCmd:
			if m.SensorType == device.InputBattery {
				return &v2.BatteryLevelReading{Header: m.Header, DeviceIndex: m.DeviceIndex, BatteryLevel: float64(m.Data[0]) / 100}, nil
			}
		case *v2.RSSILevelCmd:
			if m.SensorType == device.InputRSSI {
				return &v2.RSSILevelReading{Header: m.Header, DeviceIndex: m.DeviceIndex, RSSILevel: m.Data[0]}, nil
			}
		}
		return nil, message.Unconvertible(msg, Version, v2.Version, "only battery and signal replies exist in v2")
	}
	return message.Pass(msg, Version, v2.Version, v2.Messages)
}

func attrs(entries []GenericAttributes) v2.MessageAttributes {
	n := uint32(len(entries))
	a := v2.MessageAttributes{FeatureCount: &n}
	for _, e := range entries {
		a.StepCount = append(a.StepCount, e.StepCount)
	}
	return a
}

func downgradeInfo(d DeviceMessageInfo) v2.DeviceMessageInfo {
	msgs := map[string]v2.MessageAttributes{"StopDeviceCmd": {}}

	var vibrators []GenericAttributes
	for _, e := range d.DeviceMessages.ScalarCmd {
		if e.ActuatorType == device.OutputVibrate {
			vibrators = append(vibrators, e)
		}
	}
	if len(vibrators) > 0 {
		msgs["SingleMotorVibrateCmd"] = v2.MessageAttributes{}
		msgs["VibrateCmd"] = attrs(vibrators)
	}
	if len(d.DeviceMessages.RotateCmd) > 0 {
		msgs["VorzeA10CycloneCmd"] = v2.MessageAttributes{}
		msgs["RotateCmd"] = attrs(d.DeviceMessages.RotateCmd)
	}
	if len(d.DeviceMessages.LinearCmd) > 0 {
		msgs["FleshlightLaunchFW12Cmd"] = v2.MessageAttributes{}
		msgs["LinearCmd"] = attrs(d.DeviceMessages.LinearCmd)
	}
	for _, s := range d.DeviceMessages.SensorReadCmd {
		switch s.SensorType {
		case device.InputBattery:
			msgs["BatteryLevelCmd"] = v2.MessageAttributes{}
		case device.InputRSSI:
			msgs["RSSILevelCmd"] = v2.MessageAttributes{}
		}
	}
	if raw := d.DeviceMessages.RawWriteCmd; raw != nil {
		for _, name := range []string{"RawWriteCmd", "RawReadCmd", "RawSubscribeCmd", "RawUnsubscribeCmd"} {
			msgs[name] = v2.MessageAttributes{Endpoints: raw.Endpoints}
		}
	}

	name := d.DeviceName
	if d.DeviceDisplayName != "" {
		name = d.DeviceDisplayName
	}
	return v2.DeviceMessageInfo{DeviceIndex: d.DeviceIndex, DeviceName: name, DeviceMessages: msgs}
}
