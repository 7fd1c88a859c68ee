// Package v2 drops the logging messages, adds step counts to device
// descriptions, battery and signal strength reads, and raw endpoint access.
package v2

import (
	"sort"

	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/message"
	v1 "github.com/urmzd/plugd/pkg/message/v1"
)

const Version = message.V2

// Messages is the v2 name table.
var Messages = v1.Messages.Without("Test", "RequestLog", "Log").With(message.RawTable()).With(message.Table{
	"DeviceList":          func() message.Message { return &DeviceList{} },
	"DeviceAdded":         func() message.Message { return &DeviceAdded{} },
	"BatteryLevelCmd":     func() message.Message { return &BatteryLevelCmd{} },
	"BatteryLevelReading": func() message.Message { return &BatteryLevelReading{} },
	"RSSILevelCmd":        func() message.Message { return &RSSILevelCmd{} },
	"RSSILevelReading":    func() message.Message { return &RSSILevelReading{} },
})

type MessageAttributes struct {
	FeatureCount *uint32            `json:"FeatureCount,omitempty"`
	StepCount    []uint32           `json:"StepCount,omitempty"`
	Endpoints    []hardware.Endpoint `json:"Endpoints,omitempty"`
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

type BatteryLevelCmd struct {
	message.Header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

func (*BatteryLevelCmd) MessageName() string    { return "BatteryLevelCmd" }
func (m *BatteryLevelCmd) TargetDevice() uint32 { return m.DeviceIndex }

// BatteryLevelReading reports charge as a fraction 0..1.
type BatteryLevelReading struct {
	message.Header
	DeviceIndex  uint32  `json:"DeviceIndex"`
	BatteryLevel float64 `json:"BatteryLevel"`
}

func (*BatteryLevelReading) MessageName() string { return "BatteryLevelReading" }

type RSSILevelCmd struct {
	message.Header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

func (*RSSILevelCmd) MessageName() string    { return "RSSILevelCmd" }
func (m *RSSILevelCmd) TargetDevice() uint32 { return m.DeviceIndex }

type RSSILevelReading struct {
	message.Header
	DeviceIndex uint32 `json:"DeviceIndex"`
	RSSILevel   int32  `json:"RSSILevel"`
}

func (*RSSILevelReading) MessageName() string { return "RSSILevelReading" }

var rawMessages = []string{"RawWriteCmd", "RawReadCmd", "RawSubscribeCmd", "RawUnsubscribeCmd"}

func actuator(features []device.DeviceFeature, t device.OutputType) (MessageAttributes, bool) {
	idx := message.FeaturesWith(features, t)
	if len(idx) == 0 {
		return MessageAttributes{}, false
	}
	n := uint32(len(idx))
	attrs := MessageAttributes{FeatureCount: &n}
	for _, i := range idx {
		attrs.StepCount = append(attrs.StepCount, features[i].StepCount(t))
	}
	return attrs, true
}

// DeviceInfo describes def in v2 terms.
func DeviceInfo(def *device.DeviceDefinition) DeviceMessageInfo {
	msgs := map[string]MessageAttributes{"StopDeviceCmd": {}}
	if a, ok := actuator(def.Features, device.OutputVibrate); ok {
		msgs["SingleMotorVibrateCmd"] = MessageAttributes{}
		msgs["VibrateCmd"] = a
	}
	if a, ok := actuator(def.Features, device.OutputRotateWithDirection); ok {
		msgs["VorzeA10CycloneCmd"] = MessageAttributes{}
		msgs["RotateCmd"] = a
	}
	if a, ok := actuator(def.Features, device.OutputPositionWithDuration); ok {
		msgs["FleshlightLaunchFW12Cmd"] = MessageAttributes{}
		msgs["LinearCmd"] = a
	}
	if len(message.InputsWith(def.Features, device.InputBattery, device.InputRead)) > 0 {
		msgs["BatteryLevelCmd"] = MessageAttributes{}
	}
	if len(message.InputsWith(def.Features, device.InputRSSI, device.InputRead)) > 0 {
		msgs["RSSILevelCmd"] = MessageAttributes{}
	}
	if eps := RawEndpoints(def.Features); len(eps) > 0 {
		for _, name := range rawMessages {
			msgs[name] = MessageAttributes{Endpoints: eps}
		}
	}
	return DeviceMessageInfo{DeviceIndex: def.Index, DeviceName: def.Label(), DeviceMessages: msgs}
}

// RawEndpoints returns every raw endpoint any feature declares, sorted.
func RawEndpoints(features []device.DeviceFeature) []hardware.Endpoint {
	seen := make(map[hardware.Endpoint]bool)
	var out []hardware.Endpoint
	for _, f := range features {
		if f.Raw == nil {
			continue
		}
		for _, ep := range f.Raw.Endpoints {
			if !seen[ep] {
				seen[ep] = true
				out = append(out, ep)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
