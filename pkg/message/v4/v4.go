// Package v4 is the current generation and the server's internal
// representation. Devices are described feature by feature and commands
// address a feature index with step values.
package v4

import (
	"encoding/json"
	"fmt"

	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/message"
	v3 "github.com/urmzd/plugd/pkg/message/v3"
)

const Version = message.V4

// Messages is the v4 name table. OutputBatch is internal and absent.
var Messages = v3.Messages.Without(
	"VibrateCmd",
	"RotateCmd",
	"LinearCmd",
	"ScalarCmd",
	"SensorReadCmd",
	"SensorReading",
	"SensorSubscribeCmd",
	"SensorUnsubscribeCmd",
).With(message.Table{
	"DeviceList":   func() message.Message { return &DeviceList{} },
	"DeviceAdded":  func() message.Message { return &DeviceAdded{} },
	"OutputCmd":    func() message.Message { return &OutputCmd{} },
	"InputCmd":     func() message.Message { return &InputCmd{} },
	"InputReading": func() message.Message { return &InputReading{} },
})

type OutputAttributes struct {
	Value device.RangeInclusive `json:"Value"`
}

type InputAttributes struct {
	Value   []device.RangeInclusive `json:"Value"`
	Command []device.InputCommand   `json:"Command"`
}

type RawAttributes struct {
	Endpoints []hardware.Endpoint `json:"Endpoints"`
}

// Feature is the wire description of one device feature. Output ranges
// are the effective ones, with any user limit applied.
type Feature struct {
	FeatureIndex       uint32                                `json:"FeatureIndex"`
	FeatureDescription string                                `json:"FeatureDescription"`
	FeatureType        device.FeatureType                    `json:"FeatureType"`
	Output             map[device.OutputType]OutputAttributes `json:"Output,omitempty"`
	Input              map[device.InputType]InputAttributes   `json:"Input,omitempty"`
	Raw                *RawAttributes                         `json:"Raw,omitempty"`
}

type DeviceMessageInfo struct {
	DeviceIndex            uint32    `json:"DeviceIndex"`
	DeviceName             string    `json:"DeviceName"`
	DeviceDisplayName      string    `json:"DeviceDisplayName,omitempty"`
	DeviceMessageTimingGap *uint32   `json:"DeviceMessageTimingGap,omitempty"`
	DeviceFeatures         []Feature `json:"DeviceFeatures"`
}

type DeviceList struct {
	message.Header
	Devices []DeviceMessageInfo `json:"Devices"`
}

func (*DeviceList) MessageName() string { return "DeviceList" }

type DeviceAdded struct {
	message.Header
	DeviceMessageInfo
}

func (*DeviceAdded) MessageName() string { return "DeviceAdded" }

// OutputCommand is one typed output value. On the wire it is keyed by the
// output type: {"Vibrate": {"Value": 10}}.
type OutputCommand struct {
	Type      device.OutputType
	Value     int32
	Clockwise bool
	Duration  uint32
}

type outputBody struct {
	Value     int32   `json:"Value"`
	Clockwise *bool   `json:"Clockwise,omitempty"`
	Duration  *uint32 `json:"Duration,omitempty"`
}

func (c OutputCommand) MarshalJSON() ([]byte, error) {
	body := outputBody{Value: c.Value}
	switch c.Type {
	case device.OutputRotateWithDirection:
		body.Clockwise = &c.Clockwise
	case device.OutputPositionWithDuration:
		body.Duration = &c.Duration
	}
	return json.Marshal(map[device.OutputType]outputBody{c.Type: body})
}

func (c *OutputCommand) UnmarshalJSON(data []byte) error {
	var in map[device.OutputType]outputBody
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in) != 1 {
		return fmt.Errorf("output command needs exactly one type, got %d", len(in))
	}
	for t, body := range in {
		if !t.Valid() {
			return fmt.Errorf("unknown output type %q", t)
		}
		*c = OutputCommand{Type: t, Value: body.Value}
		if body.Clockwise != nil {
			c.Clockwise = *body.Clockwise
		}
		if body.Duration != nil {
			c.Duration = *body.Duration
		}
	}
	return nil
}

type OutputCmd struct {
	message.Header
	DeviceIndex  uint32        `json:"DeviceIndex"`
	FeatureIndex uint32        `json:"FeatureIndex"`
	Command      OutputCommand `json:"Command"`
}

func (*OutputCmd) MessageName() string    { return "OutputCmd" }
func (m *OutputCmd) TargetDevice() uint32 { return m.DeviceIndex }

// Request returns the command as a device output request.
func (m *OutputCmd) Request() device.OutputRequest {
	return device.OutputRequest{
		FeatureIndex: m.FeatureIndex,
		Type:         m.Command.Type,
		Value:        m.Command.Value,
		Clockwise:    m.Command.Clockwise,
		Duration:     m.Command.Duration,
	}
}

// OutputBatch is what older multi-actuator commands upgrade into. It must
// be applied to the device as a single diff.
type OutputBatch struct {
	message.Header
	DeviceIndex uint32
	Commands    []device.OutputRequest
}

func (*OutputBatch) MessageName() string    { return "OutputBatch" }
func (m *OutputBatch) TargetDevice() uint32 { return m.DeviceIndex }

type InputCmd struct {
	message.Header
	DeviceIndex  uint32              `json:"DeviceIndex"`
	FeatureIndex uint32              `json:"FeatureIndex"`
	InputType    device.InputType    `json:"InputType"`
	InputCommand device.InputCommand `json:"InputCommand"`
}

func (*InputCmd) MessageName() string    { return "InputCmd" }
func (m *InputCmd) TargetDevice() uint32 { return m.DeviceIndex }

// InputReading answers a read (with the request id) or reports a
// subscribed value (with the system id).
type InputReading struct {
	message.Header
	DeviceIndex  uint32           `json:"DeviceIndex"`
	FeatureIndex uint32           `json:"FeatureIndex"`
	InputType    device.InputType `json:"InputType"`
	Value        int32            `json:"Value"`
}

func (*InputReading) MessageName() string { return "InputReading" }

// NewInputReading wraps a device reading.
func NewInputReading(id uint32, r device.InputReading) *InputReading {
	return &InputReading{
		Header:       message.Header{ID: id},
		DeviceIndex:  r.DeviceIndex,
		FeatureIndex: r.FeatureIndex,
		InputType:    r.Type,
		Value:        r.Value,
	}
}

// DeviceInfo describes def in v4 terms.
func DeviceInfo(def *device.DeviceDefinition) DeviceMessageInfo {
	out := DeviceMessageInfo{
		DeviceIndex:            def.Index,
		DeviceName:             def.Name,
		DeviceDisplayName:      def.DisplayName,
		DeviceMessageTimingGap: v3.TimingGap(def),
		DeviceFeatures:         make([]Feature, 0, len(def.Features)),
	}
	for i, f := range def.Features {
		wf := Feature{
			FeatureIndex:       uint32(i),
			FeatureDescription: f.Description,
			FeatureType:        f.FeatureType,
		}
		if len(f.Output) > 0 {
			wf.Output = make(map[device.OutputType]OutputAttributes, len(f.Output))
			for t, o := range f.Output {
				wf.Output[t] = OutputAttributes{Value: o.Effective()}
			}
		}
		if len(f.Input) > 0 {
			wf.Input = make(map[device.InputType]InputAttributes, len(f.Input))
			for t, in := range f.Input {
				wf.Input[t] = InputAttributes{
					Value:   append([]device.RangeInclusive(nil), in.ValueRange...),
					Command: append([]device.InputCommand(nil), in.Commands...),
				}
			}
		}
		if f.Raw != nil {
			wf.Raw = &RawAttributes{Endpoints: append([]hardware.Endpoint(nil), f.Raw.Endpoints...)}
		}
		out.DeviceFeatures = append(out.DeviceFeatures, wf)
	}
	return out
}

// Features rebuilds device features from their wire description. Output
// ranges come back as the effective range.
func Features(wire []Feature) []device.DeviceFeature {
	out := make([]device.DeviceFeature, len(wire))
	for i, wf := range wire {
		f := device.DeviceFeature{Description: wf.FeatureDescription, FeatureType: wf.FeatureType}
		if len(wf.Output) > 0 {
			f.Output = make(map[device.OutputType]device.OutputProperties, len(wf.Output))
			for t, o := range wf.Output {
				f.Output[t] = device.OutputProperties{StepRange: o.Value}
			}
		}
		if len(wf.Input) > 0 {
			f.Input = make(map[device.InputType]device.InputProperties, len(wf.Input))
			for t, in := range wf.Input {
				f.Input[t] = device.InputProperties{ValueRange: in.Value, Commands: in.Command}
			}
		}
		if wf.Raw != nil {
			f.Raw = &device.RawProperties{Endpoints: wf.Raw.Endpoints}
		}
		out[i] = f
	}
	return out
}
