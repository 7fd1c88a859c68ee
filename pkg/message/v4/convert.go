package v4

import (
	"fmt"

	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/message"
	v1 "github.com/urmzd/plugd/pkg/message/v1"
	v3 "github.com/urmzd/plugd/pkg/message/v3"
)

// FromV3 upgrades a v3 message. Fractional actuator commands are scaled to
// steps against each feature's effective range.
func FromV3(msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	switch m := msg.(type) {
	case *v3.DeviceAdded:
		def, err := ctx.Device(m.DeviceIndex)
		if err != nil {
			return nil, err
		}
		return &DeviceAdded{Header: m.Header, DeviceMessageInfo: DeviceInfo(def)}, nil

	case *v3.DeviceList:
		out := &DeviceList{Header: m.Header, Devices: make([]DeviceMessageInfo, 0, len(m.Devices))}
		for _, d := range m.Devices {
			def, err := ctx.Device(d.DeviceIndex)
			if err != nil {
				return nil, err
			}
			out.Devices = append(out.Devices, DeviceInfo(def))
		}
		return out, nil

	case *v1.VibrateCmd:
		return batch(m.Header, m.DeviceIndex, ctx, func(features []device.DeviceFeature) ([]device.OutputRequest, error) {
			targets := message.FeaturesWith(features, device.OutputVibrate)
			var reqs []device.OutputRequest
			for _, s := range m.Speeds {
				req, err := scaled(features, targets, s.Index, device.OutputVibrate, s.Speed)
				if err != nil {
					return nil, err
				}
				reqs = append(reqs, req)
			}
			return reqs, nil
		})

	case *v1.RotateCmd:
		return batch(m.Header, m.DeviceIndex, ctx, func(features []device.DeviceFeature) ([]device.OutputRequest, error) {
			targets := message.FeaturesWith(features, device.OutputRotateWithDirection)
			var reqs []device.OutputRequest
			for _, r := range m.Rotations {
				req, err := scaled(features, targets, r.Index, device.OutputRotateWithDirection, r.Speed)
				if err != nil {
					return nil, err
				}
				req.Clockwise = r.Clockwise
				reqs = append(reqs, req)
			}
			return reqs, nil
		})

	case *v1.LinearCmd:
		return batch(m.Header, m.DeviceIndex, ctx, func(features []device.DeviceFeature) ([]device.OutputRequest, error) {
			targets := message.FeaturesWith(features, device.OutputPositionWithDuration)
			var reqs []device.OutputRequest
			for _, v := range m.Vectors {
				req, err := scaled(features, targets, v.Index, device.OutputPositionWithDuration, v.Position)
				if err != nil {
					return nil, err
				}
				req.Duration = v.Duration
				reqs = append(reqs, req)
			}
			return reqs, nil
		})

	case *v3.ScalarCmd:
		return batch(m.Header, m.DeviceIndex, ctx, func(features []device.DeviceFeature) ([]device.OutputRequest, error) {
			targets := v3.ScalarTargets(features)
			var reqs []device.OutputRequest
			for _, s := range m.Scalars {
				if int(s.Index) >= len(targets) {
					return nil, fmt.Errorf("%w: scalar index %d, device has %d", device.ErrInvalidFeature, s.Index, len(targets))
				}
				tg := targets[s.Index]
				if tg.Type != s.ActuatorType {
					return nil, fmt.Errorf("%w: scalar index %d is %s, not %s", device.ErrInvalidFeature, s.Index, tg.Type, s.ActuatorType)
				}
				req, err := scaled(features, []uint32{tg.Feature}, 0, tg.Type, s.Scalar)
				if err != nil {
					return nil, err
				}
				reqs = append(reqs, req)
			}
			return reqs, nil
		})

	case *v3.SensorReadCmd:
		return input(m.Header, m.DeviceIndex, m.SensorIndex, m.SensorType, device.InputRead, device.InputRead, ctx)
	case *v3.SensorSubscribeCmd:
		return input(m.Header, m.DeviceIndex, m.SensorIndex, m.SensorType, device.InputSubscribe, device.InputSubscribe, ctx)
	case *v3.SensorUnsubscribeCmd:
		return input(m.Header, m.DeviceIndex, m.SensorIndex, m.SensorType, device.InputSubscribe, device.InputUnsubscribe, ctx)
	}
	return message.Pass(msg, v3.Version, Version, Messages)
}

func batch(h message.Header, index uint32, ctx message.ConversionContext, build func([]device.DeviceFeature) ([]device.OutputRequest, error)) (message.Message, error) {
	def, err := ctx.Device(index)
	if err != nil {
		return nil, err
	}
	reqs, err := build(def.Features)
	if err != nil {
		return nil, err
	}
	return &OutputBatch{Header: h, DeviceIndex: index, Commands: reqs}, nil
}

// scaled maps the n-th entry of targets to an output request.
func scaled(features []device.DeviceFeature, targets []uint32, n uint32, t device.OutputType, fraction float64) (device.OutputRequest, error) {
	if int(n) >= len(targets) {
		return device.OutputRequest{}, fmt.Errorf("%w: %s index %d, device has %d", device.ErrInvalidFeature, t, n, len(targets))
	}
	fi := targets[n]
	value, err := device.ScalarToSteps(fraction, features[fi].Output[t].Effective())
	if err != nil {
		return device.OutputRequest{}, err
	}
	return device.OutputRequest{FeatureIndex: fi, Type: t, Value: value}, nil
}

// input resolves a v3 sensor index, counted in the list for listCmd.
func input(h message.Header, index, sensor uint32, t device.InputType, listCmd, cmd device.InputCommand, ctx message.ConversionContext) (message.Message, error) {
	def, err := ctx.Device(index)
	if err != nil {
		return nil, err
	}
	targets := v3.SensorTargets(def.Features, listCmd)
	if int(sensor) >= len(targets) {
		return nil, fmt.Errorf("%w: sensor index %d, device has %d", device.ErrInvalidFeature, sensor, len(targets))
	}
	tg := targets[sensor]
	if tg.Type != t {
		return nil, fmt.Errorf("%w: sensor index %d is %s, not %s", device.ErrInvalidFeature, sensor, tg.Type, t)
	}
	return &InputCmd{Header: h, DeviceIndex: index, FeatureIndex: tg.Feature, InputType: t, InputCommand: cmd}, nil
}

// ToV3 downgrades a v4 message. Readings are mapped back to the sensor
// index a v3 client knows: the read list for replies, the subscribe list
// for unsolicited values.
func ToV3(msg message.Message, ctx message.ConversionContext) (message.Message, error) {
	switch m := msg.(type) {
	case *DeviceAdded:
		return &v3.DeviceAdded{Header: m.Header, DeviceMessageInfo: downgradeInfo(m.DeviceMessageInfo)}, nil

	case *DeviceList:
		out := &v3.DeviceList{Header: m.Header, Devices: make([]v3.DeviceMessageInfo, 0, len(m.Devices))}
		for _, d := range m.Devices {
			out.Devices = append(out.Devices, downgradeInfo(d))
		}
		return out, nil

	case *InputReading:
		def, err := ctx.Device(m.DeviceIndex)
		if err != nil {
			return nil, err
		}
		list := device.InputSubscribe
		if m.ID != message.SystemID {
			list = device.InputRead
		}
		for i, tg := range v3.SensorTargets(def.Features, list) {
			if tg.Feature == m.FeatureIndex && tg.Type == m.InputType {
				return &v3.SensorReading{
					Header:      m.Header,
					DeviceIndex: m.DeviceIndex,
					SensorIndex: uint32(i),
					SensorType:  m.InputType,
					Data:        []int32{m.Value},
				}, nil
			}
		}
		return nil, message.Unconvertible(msg, Version, v3.Version, "sensor has no v3 index")
	}
	return message.Pass(msg, Version, v3.Version, v3.Messages)
}

func downgradeInfo(d DeviceMessageInfo) v3.DeviceMessageInfo {
	return v3.DeviceMessageInfo{
		DeviceIndex:            d.DeviceIndex,
		DeviceName:             d.DeviceName,
		DeviceDisplayName:      d.DeviceDisplayName,
		DeviceMessageTimingGap: d.DeviceMessageTimingGap,
		DeviceMessages:         v3.Attributes(Features(d.DeviceFeatures)),
	}
}
