package types

import (
	"time"

	"github.com/urmzd/plugd/pkg/device"
)

// --- Request DTOs ---

// OutputRequest is the request body for POST /devices/:index/output
type OutputRequest struct {
	Commands []device.OutputRequest `json:"commands"`
}

// --- Response DTOs ---

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	Status     string    `json:"status"`
	Transports string    `json:"transports"`
	Scanning   bool      `json:"scanning"`
	Devices    int       `json:"devices"`
	Timestamp  time.Time `json:"timestamp"`
}

// ListDevicesResponse is returned from GET /devices
type ListDevicesResponse struct {
	Devices []DeviceSummary `json:"devices"`
	Count   int             `json:"count"`
}

// DeviceSummary describes a live device
type DeviceSummary struct {
	Index        uint32                 `json:"index"`
	Name         string                 `json:"name"`
	DisplayName  string                 `json:"display_name,omitempty"`
	Address      string                 `json:"address"`
	Protocol     string                 `json:"protocol"`
	MessageGapMs int64                  `json:"message_gap_ms,omitempty"`
	Features     []device.DeviceFeature `json:"features"`
}

// NewDeviceSummary converts a device definition to its API form.
func NewDeviceSummary(d *device.DeviceDefinition) DeviceSummary {
	return DeviceSummary{
		Index:        d.Index,
		Name:         d.Name,
		DisplayName:  d.DisplayName,
		Address:      d.Address,
		Protocol:     d.Protocol,
		MessageGapMs: d.MessageGap.Milliseconds(),
		Features:     d.Features,
	}
}

// DeviceResponse is returned from GET /devices/:index
type DeviceResponse struct {
	Device DeviceSummary `json:"device"`
}

// InputResponse is returned from GET /devices/:index/features/:feature/input/:type
type InputResponse struct {
	Reading   device.InputReading `json:"reading"`
	Timestamp time.Time           `json:"timestamp"`
}

// StatusResponse acknowledges a command
type StatusResponse struct {
	Status string `json:"status"`
}

// ScanningResponse is returned from POST /scanning/start and /scanning/stop
type ScanningResponse struct {
	Status   string `json:"status"`
	Scanning bool   `json:"scanning"`
}
