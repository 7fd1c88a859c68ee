// Package v3 replaces the device-family commands with ScalarCmd and the
// Sensor* messages, and describes each actuator and sensor individually.
package v3

import (
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/message"
	v2 "github.com/urmzd/plugd/pkg/message/v2"
)

const Version = message.V3

// Messages is the v3 name table.
var Messages = v2.Messages.Without(
	"SingleMotorVibrateCmd",
	"FleshlightLaunchFW12Cmd",
	"VorzeA10CycloneCmd",
	"LovenseCmd",
	"KiirooCmd",
	"BatteryLevelCmd",
	"BatteryLevelReading",
	"RSSILevelCmd",
	"RSSILevelReading",
).With(message.Table{
	"DeviceList":           func() message.Message { return &DeviceList{} },
	"DeviceAdded":          func() message.Message { return &DeviceAdded{} },
	"ScalarCmd":            func() message.Message { return &ScalarCmd{} },
	"SensorReadCmd":        func() message.Message { return &SensorReadCmd{} },
	"SensorReading":        func() message.Message { return &SensorReading{} },
	"SensorSubscribeCmd":   func() message.Message { return &SensorSubscribeCmd{} },
	"SensorUnsubscribeCmd": func() message.Message { return &SensorUnsubscribeCmd{} },
})

// GenericAttributes describes one actuator entry.
type GenericAttributes struct {
	FeatureDescriptor string            `json:"FeatureDescriptor"`
	ActuatorType      device.OutputType `json:"ActuatorType"`
	StepCount         uint32            `json:"StepCount"`
}

type SensorAttributes struct {
	FeatureDescriptor string                  `json:"FeatureDescriptor"`
	SensorType        device.InputType        `json:"SensorType"`
	SensorRange       []device.RangeInclusive `json:"SensorRange"`
}

type RawAttributes struct {
	Endpoints []hardware.Endpoint `json:"Endpoints"`
}

type NullAttributes struct{}

type DeviceMessages struct {
	ScalarCmd          []GenericAttributes `json:"ScalarCmd,omitempty"`
	RotateCmd          []GenericAttributes `json:"RotateCmd,omitempty"`
	LinearCmd          []GenericAttributes `json:"LinearCmd,omitempty"`
	SensorReadCmd      []SensorAttributes  `json:"SensorReadCmd,omitempty"`
	SensorSubscribeCmd []SensorAttributes  `json:"SensorSubscribeCmd,omitempty"`
	RawReadCmd         *RawAttributes      `json:"RawReadCmd,omitempty"`
	RawWriteCmd        *RawAttributes      `json:"RawWriteCmd,omitempty"`
	RawSubscribeCmd    *RawAttributes      `json:"RawSubscribeCmd,omitempty"`
	StopDeviceCmd      NullAttributes      `json:"StopDeviceCmd"`
}

type DeviceMessageInfo struct {
	DeviceIndex            uint32         `json:"DeviceIndex"`
	DeviceName             string         `json:"DeviceName"`
	DeviceDisplayName      string         `json:"DeviceDisplayName,omitempty"`
	DeviceMessageTimingGap *uint32        `json:"DeviceMessageTimingGap,omitempty"`
	DeviceMessages         DeviceMessages `json:"DeviceMessages"`
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

// ScalarSubcommand sets the ScalarCmd entry at Index to Scalar (0..1).
// ActuatorType must match the entry.
type ScalarSubcommand struct {
	Index        uint32            `json:"Index"`
	Scalar       float64           `json:"Scalar"`
	ActuatorType device.OutputType `json:"ActuatorType"`
}

type ScalarCmd struct {
	message.Header
	DeviceIndex uint32             `json:"DeviceIndex"`
	Scalars     []ScalarSubcommand `json:"Scalars"`
}

func (*ScalarCmd) MessageName() string    { return "ScalarCmd" }
func (m *ScalarCmd) TargetDevice() uint32 { return m.DeviceIndex }

// SensorReadCmd reads the SensorReadCmd entry at SensorIndex.
type SensorReadCmd struct {
	message.Header
	DeviceIndex uint32           `json:"DeviceIndex"`
	SensorIndex uint32           `json:"SensorIndex"`
	SensorType  device.InputType `json:"SensorType"`
}

func (*SensorReadCmd) MessageName() string    { return "SensorReadCmd" }
func (m *SensorReadCmd) TargetDevice() uint32 { return m.DeviceIndex }

type SensorReading struct {
	message.Header
	DeviceIndex uint32           `json:"DeviceIndex"`
	SensorIndex uint32           `json:"SensorIndex"`
	SensorType  device.InputType `json:"SensorType"`
	Data        []int32          `json:"Data"`
}

func (*SensorReading) MessageName() string { return "SensorReading" }

// SensorSubscribeCmd and SensorUnsubscribeCmd index the
// SensorSubscribeCmd entries.
type SensorSubscribeCmd struct {
	message.Header
	DeviceIndex uint32           `json:"DeviceIndex"`
	SensorIndex uint32           `json:"SensorIndex"`
	SensorType  device.InputType `json:"SensorType"`
}

func (*SensorSubscribeCmd) MessageName() string    { return "SensorSubscribeCmd" }
func (m *SensorSubscribeCmd) TargetDevice() uint32 { return m.DeviceIndex }

type SensorUnsubscribeCmd struct {
	message.Header
	DeviceIndex uint32           `json:"DeviceIndex"`
	SensorIndex uint32           `json:"SensorIndex"`
	SensorType  device.InputType `json:"SensorType"`
}

func (*SensorUnsubscribeCmd) MessageName() string    { return "SensorUnsubscribeCmd" }
func (m *SensorUnsubscribeCmd) TargetDevice() uint32 { return m.DeviceIndex }

// ScalarTypes are the outputs ScalarCmd can drive.
var ScalarTypes = []device.OutputType{
	device.OutputVibrate,
	device.OutputRotate,
	device.OutputOscillate,
	device.OutputConstrict,
	device.OutputInflate,
	device.OutputPosition,
}

// OutputTarget locates one actuator entry on the device.
type OutputTarget struct {
	Feature uint32
	Type    device.OutputType
}

// InputTarget locates one sensor entry on the device.
type InputTarget struct {
	Feature uint32
	Type    device.InputType
}

// ScalarTargets lists the ScalarCmd entries in index order.
func ScalarTargets(features []device.DeviceFeature) []OutputTarget {
	var out []OutputTarget
	for i := range features {
		for _, t := range ScalarTypes {
			if features[i].HasOutput(t) {
				out = append(out, OutputTarget{Feature: uint32(i), Type: t})
			}
		}
	}
	return out
}

// SensorTargets lists the sensor entries supporting cmd in index order.
func SensorTargets(features []device.DeviceFeature, cmd device.InputCommand) []InputTarget {
	var out []InputTarget
	for i := range features {
		for _, t := range features[i].InputTypes() {
			if features[i].Input[t].Supports(cmd) {
				out = append(out, InputTarget{Feature: uint32(i), Type: t})
			}
		}
	}
	return out
}

func generic(features []device.DeviceFeature, targets []OutputTarget) []GenericAttributes {
	var out []GenericAttributes
	for _, tg := range targets {
		f := &features[tg.Feature]
		out = append(out, GenericAttributes{
			FeatureDescriptor: f.Description,
			ActuatorType:      tg.Type,
			StepCount:         f.StepCount(tg.Type),
		})
	}
	return out
}

func sensors(features []device.DeviceFeature, targets []InputTarget) []SensorAttributes {
	var out []SensorAttributes
	for _, tg := range targets {
		f := &features[tg.Feature]
		out = append(out, SensorAttributes{
			FeatureDescriptor: f.Description,
			SensorType:        tg.Type,
			SensorRange:       append([]device.RangeInclusive(nil), f.Input[tg.Type].ValueRange...),
		})
	}
	return out
}

func outputs(features []device.DeviceFeature, t device.OutputType) []OutputTarget {
	var out []OutputTarget
	for _, i := range message.FeaturesWith(features, t) {
		out = append(out, OutputTarget{Feature: i, Type: t})
	}
	return out
}

// Attributes describes a feature list in v3 terms.
func Attributes(features []device.DeviceFeature) DeviceMessages {
	msgs := DeviceMessages{
		ScalarCmd:          generic(features, ScalarTargets(features)),
		RotateCmd:          generic(features, outputs(features, device.OutputRotateWithDirection)),
		LinearCmd:          generic(features, outputs(features, device.OutputPositionWithDuration)),
		SensorReadCmd:      sensors(features, SensorTargets(features, device.InputRead)),
		SensorSubscribeCmd: sensors(features, SensorTargets(features, device.InputSubscribe)),
	}
	if eps := v2.RawEndpoints(features); len(eps) > 0 {
		msgs.RawReadCmd = &RawAttributes{Endpoints: eps}
		msgs.RawWriteCmd = &RawAttributes{Endpoints: eps}
		msgs.RawSubscribeCmd = &RawAttributes{Endpoints: eps}
	}
	return msgs
}

// TimingGap converts a message gap to the wire field.
func TimingGap(def *device.DeviceDefinition) *uint32 {
	if def.MessageGap <= 0 {
		return nil
	}
	ms := uint32(def.MessageGap.Milliseconds())
	return &ms
}

// DeviceInfo describes def in v3 terms.
func DeviceInfo(def *device.DeviceDefinition) DeviceMessageInfo {
	return DeviceMessageInfo{
		DeviceIndex:            def.Index,
		DeviceName:             def.Name,
		DeviceDisplayName:      def.DisplayName,
		DeviceMessageTimingGap: TimingGap(def),
		DeviceMessages:         Attributes(def.Features),
	}
}
