package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/urmzd/plugd/pkg/device"
)

func (s *Server) handleGetHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transports := "disconnected"
	if s.controller.IsConnected() {
		transports = "connected"
	}

	status := "healthy"
	if transports != "connected" {
		status = "unhealthy"
	}

	out := GetHealthOutput{
		Status:     status,
		Transports: transports,
		Scanning:   s.controller.IsScanning(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.controller.ListDevices(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list devices: %s", err)), nil
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for i := range devices {
		infos = append(infos, DeviceToInfo(&devices[i]))
	}

	out := ListDevicesOutput{
		Devices: infos,
		Count:   len(infos),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := requiredIndex(request, "index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, err := s.controller.GetDevice(ctx, index)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("device not found: %s", err)), nil
	}

	out := GetDeviceOutput{Device: DeviceToInfo(d)}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleStartScanning(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.controller.StartScanning(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start scanning: %s", err)), nil
	}
	return commandResult("Scanning started"), nil
}

func (s *Server) handleStopScanning(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.controller.StopScanning(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to stop scanning: %s", err)), nil
	}
	return commandResult("Scanning stopped"), nil
}

func (s *Server) handleStopDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := requiredIndex(request, "index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.controller.StopDevice(ctx, index); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to stop device %d: %s", index, err)), nil
	}
	return commandResult(fmt.Sprintf("Device %d stopped", index)), nil
}

func (s *Server) handleStopAllDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.controller.StopAllDevices(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to stop devices: %s", err)), nil
	}
	return commandResult("All devices stopped"), nil
}

func (s *Server) handleSetOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := requiredIndex(request, "index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	featureIndex, err := requiredIndex(request, "feature_index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := requiredString(request, "type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	level, err := requiredNumber(request, "level")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	t := device.OutputType(typ)
	if !t.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown output type %q", typ)), nil
	}

	d, err := s.controller.GetDevice(ctx, index)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("device not found: %s", err)), nil
	}
	f, err := d.Feature(featureIndex)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	props, ok := f.Output[t]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("feature %d has no %s output", featureIndex, t)), nil
	}
	steps, err := device.ScalarToSteps(level, props.Effective())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := device.OutputRequest{FeatureIndex: featureIndex, Type: t, Value: steps}
	args := request.GetArguments()
	if cw, ok := args["clockwise"].(bool); ok {
		req.Clockwise = cw
	}
	if ms, ok := args["duration_ms"].(float64); ok && ms > 0 {
		req.Duration = uint32(ms)
	}

	if err := s.controller.Output(ctx, index, []device.OutputRequest{req}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to set output: %s", err)), nil
	}

	out := SetOutputOutput{
		DeviceIndex:  index,
		FeatureIndex: featureIndex,
		Type:         t,
		Steps:        steps,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleReadSensor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := requiredIndex(request, "index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	featureIndex, err := requiredIndex(request, "feature_index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := requiredString(request, "type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t := device.InputType(typ)
	if !t.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown input type %q", typ)), nil
	}

	reading, err := s.controller.ReadInput(ctx, index, featureIndex, t)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read sensor: %s", err)), nil
	}

	out := ReadSensorOutput{
		Reading:   reading,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

// --- helpers ---

func commandResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultText(formatJSON(CommandOutput{Success: true, Message: msg}))
}

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	args := request.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func requiredNumber(request mcp.CallToolRequest, key string) (float64, error) {
	args := request.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("required parameter %q is missing", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be a number", key)
	}
	return f, nil
}

// requiredIndex reads a non-negative integer argument.
func requiredIndex(request mcp.CallToolRequest, key string) (uint32, error) {
	f, err := requiredNumber(request, key)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter %q must be a non-negative integer", key)
	}
	return uint32(f), nil
}

func formatJSON(v any) string {
	b, err := encodeJSON(v)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}

func encodeJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
