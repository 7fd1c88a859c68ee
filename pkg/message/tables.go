package message

import "github.com/urmzd/plugd/pkg/device"

// Common lists the shared messages every table starts from.
func Common() Table {
	return Table{
		"Ok":                func() Message { return &Ok{} },
		"Error":             func() Message { return &Error{} },
		"Ping":              func() Message { return &Ping{} },
		"RequestServerInfo": func() Message { return &RequestServerInfo{} },
		"ServerInfo":        func() Message { return &ServerInfo{} },
		"StartScanning":     func() Message { return &StartScanning{} },
		"StopScanning":      func() Message { return &StopScanning{} },
		"ScanningFinished":  func() Message { return &ScanningFinished{} },
		"RequestDeviceList": func() Message { return &RequestDeviceList{} },
		"StopDeviceCmd":     func() Message { return &StopDeviceCmd{} },
		"StopAllDevices":    func() Message { return &StopAllDevices{} },
		"DeviceRemoved":     func() Message { return &DeviceRemoved{} },
	}
}

// With returns a copy of t extended by more.
func (t Table) With(more Table) Table {
	out := make(Table, len(t)+len(more))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range more {
		out[k] = v
	}
	return out
}

// Without returns a copy of t minus names.
func (t Table) Without(names ...string) Table {
	out := t.With(nil)
	for _, n := range names {
		delete(out, n)
	}
	return out
}

// RawTable lists the raw endpoint messages introduced in v2.
func RawTable() Table {
	return Table{
		"RawWriteCmd":       func() Message { return &RawWriteCmd{} },
		"RawReadCmd":        func() Message { return &RawReadCmd{} },
		"RawReading":        func() Message { return &RawReading{} },
		"RawSubscribeCmd":   func() Message { return &RawSubscribeCmd{} },
		"RawUnsubscribeCmd": func() Message { return &RawUnsubscribeCmd{} },
	}
}

// FeaturesWith returns the indices of features accepting output t.
func FeaturesWith(features []device.DeviceFeature, t device.OutputType) []uint32 {
	var out []uint32
	for i := range features {
		if features[i].HasOutput(t) {
			out = append(out, uint32(i))
		}
	}
	return out
}

// InputsWith returns the indices of features whose input t supports cmd.
func InputsWith(features []device.DeviceFeature, t device.InputType, cmd device.InputCommand) []uint32 {
	var out []uint32
	for i := range features {
		if in, ok := features[i].Input[t]; ok && in.Supports(cmd) {
			out = append(out, uint32(i))
		}
	}
	return out
}

// Pass returns msg unchanged when target carries its type, and a
// ConversionError otherwise.
func Pass(msg Message, from, to SpecVersion, target Table) (Message, error) {
	if target.Has(msg) {
		return msg, nil
	}
	return nil, Unconvertible(msg, from, to, "no equivalent message")
}
