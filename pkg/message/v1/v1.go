// Package v1 adds generic actuator commands addressed by motor index and
// reports per-message feature counts.
package v1

import (
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/message"
	v0 "github.com/urmzd/plugd/pkg/message/v0"
)

const Version = message.V1

// Messages is the v1 name table.
var Messages = v0.Messages.With(message.Table{
	"DeviceList":  func() message.Message { return &DeviceList{} },
	"DeviceAdded": func() message.Message { return &DeviceAdded{} },
	"VibrateCmd":  func() message.Message { return &VibrateCmd{} },
	"RotateCmd":   func() message.Message { return &RotateCmd{} },
	"LinearCmd":   func() message.Message { return &LinearCmd{} },
})

type MessageAttributes struct {
	FeatureCount *uint32 `json:"FeatureCount,omitempty"`
}

type DeviceMessageInfo struct {
	DeviceIndex    uint32                       `json:"DeviceIndex"`
	DeviceName     string                       `json:"DeviceName"`
	DeviceMessages map[string]MessageAttributes `json:"DeviceMessages"`
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

// VibrateSubcommand sets one vibrator, counted among vibrate features only.
type VibrateSubcommand struct {
	Index uint32  `json:"Index"`
	Speed float64 `json:"Speed"`
}

type VibrateCmd struct {
	message.Header
	DeviceIndex uint32              `json:"DeviceIndex"`
	Speeds      []VibrateSubcommand `json:"Speeds"`
}

func (*VibrateCmd) MessageName() string    { return "VibrateCmd" }
func (m *VibrateCmd) TargetDevice() uint32 { return m.DeviceIndex }

type RotationSubcommand struct {
	Index     uint32  `json:"Index"`
	Speed     float64 `json:"Speed"`
	Clockwise bool    `json:"Clockwise"`
}

type RotateCmd struct {
	message.Header
	DeviceIndex uint32               `json:"DeviceIndex"`
	Rotations   []RotationSubcommand `json:"Rotations"`
}

func (*RotateCmd) MessageName() string    { return "RotateCmd" }
func (m *RotateCmd) TargetDevice() uint32 { return m.DeviceIndex }

// VectorSubcommand moves a linear actuator to Position (0..1) over
// Duration milliseconds.
type VectorSubcommand struct {
	Index    uint32  `json:"Index"`
	Duration uint32  `json:"Duration"`
	Position float64 `json:"Position"`
}

type LinearCmd struct {
	message.Header
	DeviceIndex uint32             `json:"DeviceIndex"`
	Vectors     []VectorSubcommand `json:"Vectors"`
}

func (*LinearCmd) MessageName() string    { return "LinearCmd" }
func (m *LinearCmd) TargetDevice() uint32 { return m.DeviceIndex }

func count(n int) *uint32 {
	c := uint32(n)
	return &c
}

// DeviceInfo describes def in v1 terms.
func DeviceInfo(def *device.DeviceDefinition) DeviceMessageInfo {
	msgs := map[string]MessageAttributes{"StopDeviceCmd": {}}
	if n := len(message.FeaturesWith(def.Features, device.OutputVibrate)); n > 0 {
		msgs["SingleMotorVibrateCmd"] = MessageAttributes{}
		msgs["VibrateCmd"] = MessageAttributes{FeatureCount: count(n)}
	}
	if n := len(message.FeaturesWith(def.Features, device.OutputRotateWithDirection)); n > 0 {
		msgs["VorzeA10CycloneCmd"] = MessageAttributes{}
		msgs["RotateCmd"] = MessageAttributes{FeatureCount: count(n)}
	}
	if n := len(message.FeaturesWith(def.Features, device.OutputPositionWithDuration)); n > 0 {
		msgs["FleshlightLaunchFW12Cmd"] = MessageAttributes{}
		msgs["LinearCmd"] = MessageAttributes{FeatureCount: count(n)}
	}
	return DeviceMessageInfo{DeviceIndex: def.Index, DeviceName: def.Label(), DeviceMessages: msgs}
}
