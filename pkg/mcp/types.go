package mcp

import (
	"github.com/urmzd/plugd/pkg/device"
)

// --- Health Tool ---

// GetHealthOutput is the output for the get_health tool
type GetHealthOutput struct {
	Status     string `json:"status" jsonschema:"description=Overall health status (healthy or unhealthy)"`
	Transports string `json:"transports" jsonschema:"description=Whether any device transport is available"`
	Scanning   bool   `json:"scanning" jsonschema:"description=Whether discovery is running"`
	Timestamp  string `json:"timestamp" jsonschema:"description=ISO8601 timestamp"`
}

// --- List Devices Tool ---

// ListDevicesOutput is the output for the list_devices tool
type ListDevicesOutput struct {
	Devices []DeviceInfo `json:"devices" jsonschema:"description=Live devices ordered by index"`
	Count   int          `json:"count" jsonschema:"description=Total number of devices"`
}

// DeviceInfo represents a device in tool outputs
type DeviceInfo struct {
	Index       uint32        `json:"index" jsonschema:"description=Device index used by every other tool"`
	Name        string        `json:"name" jsonschema:"description=Device name from the protocol configuration"`
	DisplayName string        `json:"display_name,omitempty" jsonschema:"description=User-assigned name"`
	Protocol    string        `json:"protocol" jsonschema:"description=Protocol handler driving the device"`
	Address     string        `json:"address" jsonschema:"description=Transport address"`
	Features    []FeatureInfo `json:"features" jsonschema:"description=Addressable outputs and sensors"`
}

// FeatureInfo summarizes one device feature
type FeatureInfo struct {
	Index       uint32                                      `json:"index" jsonschema:"description=Feature index"`
	Type        device.FeatureType                          `json:"type" jsonschema:"description=Feature type"`
	Description string                                      `json:"description,omitempty" jsonschema:"description=Feature description"`
	Outputs     map[device.OutputType]device.RangeInclusive `json:"outputs,omitempty" jsonschema:"description=Accepted outputs and their step ranges"`
	Inputs      map[device.InputType][]device.InputCommand  `json:"inputs,omitempty" jsonschema:"description=Sensors and the commands they support"`
}

// --- Get Device Tool ---

// GetDeviceOutput is the output for the get_device tool
type GetDeviceOutput struct {
	Device DeviceInfo `json:"device" jsonschema:"description=Device information"`
}

// --- Command Tools ---

// CommandOutput is the output for scanning, stop and output tools
type CommandOutput struct {
	Success bool   `json:"success" jsonschema:"description=Whether the command succeeded"`
	Message string `json:"message" jsonschema:"description=Status message"`
}

// SetOutputOutput is the output for the set_output tool
type SetOutputOutput struct {
	DeviceIndex  uint32            `json:"device_index" jsonschema:"description=Device index"`
	FeatureIndex uint32            `json:"feature_index" jsonschema:"description=Feature index"`
	Type         device.OutputType `json:"type" jsonschema:"description=Output type"`
	Steps        int32             `json:"steps" jsonschema:"description=Step value sent to the device"`
}

// --- Read Sensor Tool ---

// ReadSensorOutput is the output for the read_sensor tool
type ReadSensorOutput struct {
	Reading   device.InputReading `json:"reading" jsonschema:"description=Sensor reading"`
	Timestamp string              `json:"timestamp" jsonschema:"description=ISO8601 timestamp"`
}

// --- Helper conversions ---

// DeviceToInfo converts a device definition to DeviceInfo
func DeviceToInfo(d *device.DeviceDefinition) DeviceInfo {
	info := DeviceInfo{
		Index:       d.Index,
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Protocol:    d.Protocol,
		Address:     d.Address,
		Features:    make([]FeatureInfo, 0, len(d.Features)),
	}
	for i, f := range d.Features {
		fi := FeatureInfo{Index: uint32(i), Type: f.FeatureType, Description: f.Description}
		if len(f.Output) > 0 {
			fi.Outputs = make(map[device.OutputType]device.RangeInclusive, len(f.Output))
			for t, p := range f.Output {
				fi.Outputs[t] = p.Effective()
			}
		}
		if len(f.Input) > 0 {
			fi.Inputs = make(map[device.InputType][]device.InputCommand, len(f.Input))
			for t, p := range f.Input {
				fi.Inputs[t] = p.Commands
			}
		}
		info.Features = append(info.Features, fi)
	}
	return info
}
