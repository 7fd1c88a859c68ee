// Package v0 is the first client message generation: device messages are a
// plain list of supported command names and actuators are driven through
// device-family commands.
package v0

import (
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/message"
)

const Version = message.V0

// Messages is the v0 name table.
var Messages = message.Common().With(message.Table{
	"Test":                    func() message.Message { return &message.Test{} },
	"RequestLog":              func() message.Message { return &message.RequestLog{} },
	"Log":                     func() message.Message { return &message.Log{} },
	"DeviceList":              func() message.Message { return &DeviceList{} },
	"DeviceAdded":             func() message.Message { return &DeviceAdded{} },
	"SingleMotorVibrateCmd":   func() message.Message { return &SingleMotorVibrateCmd{} },
	"FleshlightLaunchFW12Cmd": func() message.Message { return &FleshlightLaunchFW12Cmd{} },
	"VorzeA10CycloneCmd":      func() message.Message { return &VorzeA10CycloneCmd{} },
	"LovenseCmd":              func() message.Message { return &LovenseCmd{} },
	"KiirooCmd":               func() message.Message { return &KiirooCmd{} },
})

// DeviceMessageInfo describes one device to a v0 client.
type DeviceMessageInfo struct {
	DeviceIndex    uint32   `json:"DeviceIndex"`
	DeviceName     string   `json:"DeviceName"`
	DeviceMessages []string `json:"DeviceMessages"`
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

// SingleMotorVibrateCmd drives every vibrator at Speed (0..1).
type SingleMotorVibrateCmd struct {
	message.Header
	DeviceIndex uint32  `json:"DeviceIndex"`
	Speed       float64 `json:"Speed"`
}

func (*SingleMotorVibrateCmd) MessageName() string    { return "SingleMotorVibrateCmd" }
func (m *SingleMotorVibrateCmd) TargetDevice() uint32 { return m.DeviceIndex }

// FleshlightLaunchFW12Cmd moves a stroker to Position at Speed, both 0..99.
type FleshlightLaunchFW12Cmd struct {
	message.Header
	DeviceIndex uint32 `json:"DeviceIndex"`
	Position    uint32 `json:"Position"`
	Speed       uint32 `json:"Speed"`
}

func (*FleshlightLaunchFW12Cmd) MessageName() string    { return "FleshlightLaunchFW12Cmd" }
func (m *FleshlightLaunchFW12Cmd) TargetDevice() uint32 { return m.DeviceIndex }

// VorzeA10CycloneCmd rotates at Speed (0..99).
type VorzeA10CycloneCmd struct {
	message.Header
	DeviceIndex uint32 `json:"DeviceIndex"`
	Speed       uint32 `json:"Speed"`
	Clockwise   bool   `json:"Clockwise"`
}

func (*VorzeA10CycloneCmd) MessageName() string    { return "VorzeA10CycloneCmd" }
func (m *VorzeA10CycloneCmd) TargetDevice() uint32 { return m.DeviceIndex }

// LovenseCmd and KiirooCmd carried vendor strings straight to hardware.
// They still decode so clients get a conversion error instead of an
// unknown-message error, but they are never executed.
type LovenseCmd struct {
	message.Header
	DeviceIndex uint32 `json:"DeviceIndex"`
	Command     string `json:"Command"`
}

func (*LovenseCmd) MessageName() string    { return "LovenseCmd" }
func (m *LovenseCmd) TargetDevice() uint32 { return m.DeviceIndex }

type KiirooCmd struct {
	message.Header
	DeviceIndex uint32 `json:"DeviceIndex"`
	Command     string `json:"Command"`
}

func (*KiirooCmd) MessageName() string    { return "KiirooCmd" }
func (m *KiirooCmd) TargetDevice() uint32 { return m.DeviceIndex }

// MessageOrder is the order device message names are listed in.
var MessageOrder = []string{
	"SingleMotorVibrateCmd",
	"FleshlightLaunchFW12Cmd",
	"VorzeA10CycloneCmd",
	"StopDeviceCmd",
}

// DeviceInfo describes def in v0 terms.
func DeviceInfo(def *device.DeviceDefinition) DeviceMessageInfo {
	supported := map[string]bool{"StopDeviceCmd": true}
	for i := range def.Features {
		f := &def.Features[i]
		if f.HasOutput(device.OutputVibrate) {
			supported["SingleMotorVibrateCmd"] = true
		}
		if f.HasOutput(device.OutputPositionWithDuration) {
			supported["FleshlightLaunchFW12Cmd"] = true
		}
		if f.HasOutput(device.OutputRotateWithDirection) {
			supported["VorzeA10CycloneCmd"] = true
		}
	}
	return DeviceMessageInfo{
		DeviceIndex:    def.Index,
		DeviceName:     def.Label(),
		DeviceMessages: Ordered(supported),
	}
}

// Ordered lists the names set in supported in MessageOrder order.
func Ordered(supported map[string]bool) []string {
	out := []string{}
	for _, n := range MessageOrder {
		if supported[n] {
			out = append(out, n)
		}
	}
	return out
}
